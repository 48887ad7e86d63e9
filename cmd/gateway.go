package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nextlevelbuilder/teamsclaw/internal/assistant"
	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
	"github.com/nextlevelbuilder/teamsclaw/internal/capability"
	"github.com/nextlevelbuilder/teamsclaw/internal/channels"
	"github.com/nextlevelbuilder/teamsclaw/internal/channels/teams"
	"github.com/nextlevelbuilder/teamsclaw/internal/config"
	"github.com/nextlevelbuilder/teamsclaw/internal/gateway"
	"github.com/nextlevelbuilder/teamsclaw/internal/pairing"
	"github.com/nextlevelbuilder/teamsclaw/internal/routing"
	"github.com/nextlevelbuilder/teamsclaw/internal/store"
	"github.com/nextlevelbuilder/teamsclaw/internal/store/pg"
	"github.com/nextlevelbuilder/teamsclaw/internal/store/sqlite"
	"github.com/nextlevelbuilder/teamsclaw/internal/telemetry"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if !cfg.Channels.Teams.Enabled || cfg.Channels.Teams.AppID == "" {
		slog.Error("teams channel is not configured",
			"hint", "set channels.teams in config.json or TEAMSCLAW_APP_ID / TEAMSCLAW_APP_PASSWORD",
		)
		os.Exit(1)
	}
	if cfg.Assistant.URL == "" {
		slog.Error("assistant backend is not configured",
			"hint", "set assistant.url in config.json or TEAMSCLAW_ASSISTANT_URL",
		)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry disabled", "error", err)
	} else {
		defer telemetryShutdown(context.Background())
	}

	dataDir := cfg.DataDirPath()
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		slog.Error("failed to create data dir", "dir", dataDir, "error", err)
		os.Exit(1)
	}

	// Standalone: sqlite under the data dir. Managed: Postgres via env DSN.
	var refs store.RefStore
	if cfg.IsManagedMode() {
		db, dbErr := pg.OpenDB(cfg.Database.PostgresDSN)
		if dbErr != nil {
			slog.Error("failed to connect to postgres", "error", dbErr)
			os.Exit(1)
		}
		refs = pg.NewRefStore(db)
		slog.Info("reference store: postgres (managed)")
	} else {
		sq, sqErr := sqlite.Open(dataDir)
		if sqErr != nil {
			slog.Error("failed to open sqlite store", "error", sqErr)
			os.Exit(1)
		}
		refs = sq
		slog.Info("reference store: sqlite (standalone)", "dir", dataDir)
	}
	defer refs.Close()

	pairingPath := cfg.Pairing.Storage
	if pairingPath == "" {
		pairingPath = filepath.Join(dataDir, "pairing.json")
	}
	pairingStore, err := pairing.NewStore(config.ExpandHome(pairingPath))
	if err != nil {
		slog.Error("failed to load pairing store", "error", err)
		os.Exit(1)
	}

	msgBus := bus.New()

	teamsChannel, err := teams.New(cfg.Channels.Teams, msgBus, refs, cfg.Gateway.RateLimitRPM)
	if err != nil {
		slog.Error("failed to initialize teams channel", "error", err)
		os.Exit(1)
	}

	channelMgr := channels.NewManager(msgBus)
	channelMgr.RegisterChannel(teams.ProviderName, teamsChannel)

	responder, err := assistant.NewClient(cfg.Assistant)
	if err != nil {
		slog.Error("failed to initialize assistant client", "error", err)
		os.Exit(1)
	}

	router := routing.NewRouter(pairingStore)
	snapshot := routing.NewSnapshot(cfg.Channels.Teams, cfg.Routing)
	dispatcher := gateway.NewDispatcher(msgBus, refs)
	engine := gateway.NewEngine(msgBus, router, snapshot, responder, dispatcher, pairingStore,
		teamsChannel.Fetcher(),
		capability.TierFromConfig(cfg.Channels.Teams.GraphEnabled),
		cfg.Gateway.Workers, cfg.Assistant.FailureReply)

	// Hot-reload on config change: routing policy swaps immediately and the
	// shared config picks up gateway token/origin edits. Channel credentials
	// and ports stay fixed until restart.
	if err := config.Watch(ctx, cfgPath, cfg, func(next *config.Config) {
		cfg.ReplaceFrom(next)
		engine.SetSnapshot(routing.NewSnapshot(next.Channels.Teams, next.Routing))
		slog.Info("routing policy reloaded")
	}); err != nil {
		slog.Warn("config watch unavailable", "error", err)
	}

	server := gateway.NewServer(cfg, msgBus, dispatcher, channelMgr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		msgBus.Broadcast(bus.Event{Name: bus.EventShutdown})
		channelMgr.StopAll(context.Background())
		cancel()
	}()

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := engine.Run(ctx); err != nil {
			slog.Error("gateway run loop error", "error", err)
		}
	}()

	mode := "standalone"
	if cfg.IsManagedMode() {
		mode = "managed"
	}
	slog.Info("teamsclaw gateway starting",
		"version", Version,
		"mode", mode,
		"tier", capability.TierFromConfig(cfg.Channels.Teams.GraphEnabled),
		"channels", []string{teams.ProviderName},
	)

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}
