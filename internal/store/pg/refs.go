// Package pg backs the conversation reference store with Postgres (managed
// mode). Schema is owned by the migrations/ directory and applied with the
// migrate command.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
	"github.com/nextlevelbuilder/teamsclaw/internal/store"
)

// OpenDB opens and pings a Postgres connection.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// RefStore implements store.RefStore backed by Postgres.
type RefStore struct {
	db *sql.DB
}

func NewRefStore(db *sql.DB) *RefStore {
	return &RefStore{db: db}
}

func (s *RefStore) Upsert(ctx context.Context, ref store.ConversationReference) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_refs
			(provider, conversation_id, conversation_type, service_url, tenant_id, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (provider, conversation_id) DO UPDATE SET
			conversation_type = COALESCE(NULLIF(EXCLUDED.conversation_type, ''), conversation_refs.conversation_type),
			service_url       = COALESCE(NULLIF(EXCLUDED.service_url, ''), conversation_refs.service_url),
			tenant_id         = COALESCE(NULLIF(EXCLUDED.tenant_id, ''), conversation_refs.tenant_id),
			last_seen_at      = GREATEST(conversation_refs.last_seen_at, EXCLUDED.last_seen_at)`,
		ref.Provider, ref.ConversationID, string(ref.ConversationType),
		ref.ServiceURL, ref.TenantID, ref.LastSeenAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert ref: %w", err)
	}
	return nil
}

func (s *RefStore) Get(ctx context.Context, provider, conversationID string) (store.ConversationReference, error) {
	var ref store.ConversationReference
	var kind string
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, conversation_id, conversation_type, service_url, tenant_id, last_seen_at
		 FROM conversation_refs WHERE provider = $1 AND conversation_id = $2`,
		provider, conversationID,
	).Scan(&ref.Provider, &ref.ConversationID, &kind, &ref.ServiceURL, &ref.TenantID, &ref.LastSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ConversationReference{}, store.ErrNotFound
	}
	if err != nil {
		return store.ConversationReference{}, fmt.Errorf("get ref: %w", err)
	}
	ref.ConversationType = bus.ConversationType(kind)
	return ref, nil
}

func (s *RefStore) List(ctx context.Context, provider string) ([]store.ConversationReference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, conversation_id, conversation_type, service_url, tenant_id, last_seen_at
		 FROM conversation_refs WHERE provider = $1 ORDER BY conversation_id`,
		provider,
	)
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	defer rows.Close()

	var out []store.ConversationReference
	for rows.Next() {
		var ref store.ConversationReference
		var kind string
		if err := rows.Scan(&ref.Provider, &ref.ConversationID, &kind, &ref.ServiceURL, &ref.TenantID, &ref.LastSeenAt); err != nil {
			return nil, fmt.Errorf("list refs: %w", err)
		}
		ref.ConversationType = bus.ConversationType(kind)
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (s *RefStore) Close() error {
	return s.db.Close()
}
