package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/teamsclaw/internal/config"
	"github.com/nextlevelbuilder/teamsclaw/internal/pairing"
)

func openPairingStore() (*pairing.Store, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	path := cfg.Pairing.Storage
	if path == "" {
		path = filepath.Join(cfg.DataDirPath(), "pairing.json")
	}
	return pairing.NewStore(config.ExpandHome(path))
}

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage DM pairing requests",
	}
	cmd.AddCommand(pairingListCmd())
	cmd.AddCommand(pairingApproveCmd())
	cmd.AddCommand(pairingRevokeCmd())
	return cmd
}

func pairingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending pairing requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPairingStore()
			if err != nil {
				return err
			}
			pending := store.ListPending()
			if len(pending) == 0 {
				fmt.Println("no pending pairing requests")
				return nil
			}
			for _, req := range pending {
				fmt.Printf("%s  %s/%s  requested %s\n",
					req.Code, req.Provider, req.SenderID, req.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func pairingApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pairing request by code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPairingStore()
			if err != nil {
				return err
			}
			req, err := store.Approve(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("approved %s/%s\n", req.Provider, req.SenderID)
			return nil
		},
	}
}

func pairingRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <provider> <sender-id>",
		Short: "Revoke an approved sender",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPairingStore()
			if err != nil {
				return err
			}
			if err := store.Revoke(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("revoked %s/%s\n", args[0], args[1])
			return nil
		},
	}
}
