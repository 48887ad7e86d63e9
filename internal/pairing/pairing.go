// Package pairing manages DM access pairing. A stranger DMing the bot under
// the pairing policy receives a short code; the operator approves the code to
// grant access. State is a single JSON file with atomic writes.
package pairing

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	codeLength  = 8
	codeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0/O/1/I
	requestTTL  = time.Hour
)

// Request is a pending pairing request.
type Request struct {
	Code      string    `json:"code"`
	Provider  string    `json:"provider"`
	SenderID  string    `json:"sender_id"`
	ChatID    string    `json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Paired is an approved sender.
type Paired struct {
	Provider   string    `json:"provider"`
	SenderID   string    `json:"sender_id"`
	ApprovedAt time.Time `json:"approved_at"`
}

type state struct {
	Pending map[string]Request `json:"pending"` // keyed by code
	Paired  []Paired           `json:"paired"`
}

// Store is the file-backed pairing store.
type Store struct {
	mu   sync.RWMutex
	path string
	st   state
}

// NewStore loads (or initializes) the pairing state at path.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path: path,
		st:   state{Pending: make(map[string]Request)},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read pairing state: %w", err)
	}
	if err := json.Unmarshal(data, &s.st); err != nil {
		return nil, fmt.Errorf("parse pairing state: %w", err)
	}
	if s.st.Pending == nil {
		s.st.Pending = make(map[string]Request)
	}
	return s, nil
}

// IsPaired reports whether a sender has been approved.
func (s *Store) IsPaired(provider, senderID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.st.Paired {
		if p.Provider == provider && p.SenderID == senderID {
			return true
		}
	}
	return false
}

// RequestPairing creates (or refreshes) a pending request and returns its
// code. An existing unexpired request for the same sender keeps its code so
// repeated DMs do not churn codes.
func (s *Store) RequestPairing(provider, senderID, chatID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked()
	for code, req := range s.st.Pending {
		if req.Provider == provider && req.SenderID == senderID {
			return code, nil
		}
	}

	code, err := generateCode()
	if err != nil {
		return "", err
	}
	s.st.Pending[code] = Request{
		Code:      code,
		Provider:  provider,
		SenderID:  senderID,
		ChatID:    chatID,
		CreatedAt: time.Now(),
	}
	if err := s.saveLocked(); err != nil {
		return "", err
	}
	return code, nil
}

// Approve promotes a pending request to paired.
func (s *Store) Approve(code string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked()
	req, ok := s.st.Pending[code]
	if !ok {
		return Request{}, fmt.Errorf("unknown pairing code %q", code)
	}
	delete(s.st.Pending, code)
	s.st.Paired = append(s.st.Paired, Paired{
		Provider:   req.Provider,
		SenderID:   req.SenderID,
		ApprovedAt: time.Now(),
	})
	if err := s.saveLocked(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Revoke removes an approved sender.
func (s *Store) Revoke(provider, senderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.st.Paired[:0]
	for _, p := range s.st.Paired {
		if p.Provider != provider || p.SenderID != senderID {
			kept = append(kept, p)
		}
	}
	s.st.Paired = kept
	return s.saveLocked()
}

// ListPending returns pending requests, newest first not guaranteed.
func (s *Store) ListPending() []Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Request, 0, len(s.st.Pending))
	for _, req := range s.st.Pending {
		if time.Since(req.CreatedAt) < requestTTL {
			out = append(out, req)
		}
	}
	return out
}

func (s *Store) expireLocked() {
	for code, req := range s.st.Pending {
		if time.Since(req.CreatedAt) >= requestTTL {
			delete(s.st.Pending, code)
		}
	}
}

// saveLocked persists the state atomically. Caller holds the write lock.
func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Atomic write: temp file → rename
	tmpFile, err := os.CreateTemp(dir, "pairing-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeCharset[int(b)%len(codeCharset)]
	}
	return string(buf), nil
}
