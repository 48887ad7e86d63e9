// Package sqlite backs the conversation reference store with a local SQLite
// file (standalone mode).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
	"github.com/nextlevelbuilder/teamsclaw/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversation_refs (
	provider          TEXT NOT NULL,
	conversation_id   TEXT NOT NULL,
	conversation_type TEXT NOT NULL DEFAULT '',
	service_url       TEXT NOT NULL DEFAULT '',
	tenant_id         TEXT NOT NULL DEFAULT '',
	last_seen_at      INTEGER NOT NULL,
	PRIMARY KEY (provider, conversation_id)
);
`

// RefStore implements store.RefStore on a SQLite file.
type RefStore struct {
	db *sql.DB
}

// Open opens (or creates) the reference database under dataDir.
func Open(dataDir string) (*RefStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "refs.db")

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &RefStore{db: db}, nil
}

// Upsert inserts or merges a reference in a single statement. Timestamps are
// stored as unix millis; MAX keeps the newest, NULLIF/COALESCE keep stored
// values when the incoming field is empty.
func (s *RefStore) Upsert(ctx context.Context, ref store.ConversationReference) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_refs
			(provider, conversation_id, conversation_type, service_url, tenant_id, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider, conversation_id) DO UPDATE SET
			conversation_type = COALESCE(NULLIF(excluded.conversation_type, ''), conversation_refs.conversation_type),
			service_url       = COALESCE(NULLIF(excluded.service_url, ''), conversation_refs.service_url),
			tenant_id         = COALESCE(NULLIF(excluded.tenant_id, ''), conversation_refs.tenant_id),
			last_seen_at      = MAX(conversation_refs.last_seen_at, excluded.last_seen_at)`,
		ref.Provider, ref.ConversationID, string(ref.ConversationType),
		ref.ServiceURL, ref.TenantID, ref.LastSeenAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert ref: %w", err)
	}
	return nil
}

func (s *RefStore) Get(ctx context.Context, provider, conversationID string) (store.ConversationReference, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT provider, conversation_id, conversation_type, service_url, tenant_id, last_seen_at
		 FROM conversation_refs WHERE provider = ? AND conversation_id = ?`,
		provider, conversationID,
	)
	ref, err := scanRef(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ConversationReference{}, store.ErrNotFound
	}
	if err != nil {
		return store.ConversationReference{}, fmt.Errorf("get ref: %w", err)
	}
	return ref, nil
}

func (s *RefStore) List(ctx context.Context, provider string) ([]store.ConversationReference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, conversation_id, conversation_type, service_url, tenant_id, last_seen_at
		 FROM conversation_refs WHERE provider = ? ORDER BY conversation_id`,
		provider,
	)
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	defer rows.Close()

	var out []store.ConversationReference
	for rows.Next() {
		ref, err := scanRef(rows)
		if err != nil {
			return nil, fmt.Errorf("list refs: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (s *RefStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRef(row scanner) (store.ConversationReference, error) {
	var ref store.ConversationReference
	var kind string
	var lastSeen int64
	err := row.Scan(&ref.Provider, &ref.ConversationID, &kind, &ref.ServiceURL, &ref.TenantID, &lastSeen)
	if err != nil {
		return store.ConversationReference{}, err
	}
	ref.ConversationType = bus.ConversationType(kind)
	ref.LastSeenAt = time.UnixMilli(lastSeen).UTC()
	return ref, nil
}
