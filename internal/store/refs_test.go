package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/teamsclaw/internal/bus"
)

func TestMemoryUpsertMergeRules(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRefStore()

	t0 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	first := ConversationReference{
		Provider:         "teams",
		ConversationID:   "19:general@thread.tacv2",
		ConversationType: bus.ConversationChannel,
		ServiceURL:       "https://smba.example.com/emea/",
		TenantID:         "tenant-1",
		LastSeenAt:       t0,
	}
	if err := s.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	t.Run("newer write advances timestamp only", func(t *testing.T) {
		update := first
		update.LastSeenAt = t1
		if err := s.Upsert(ctx, update); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		got, err := s.Get(ctx, "teams", first.ConversationID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !got.LastSeenAt.Equal(t1) {
			t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, t1)
		}
		if got.ServiceURL != first.ServiceURL || got.TenantID != first.TenantID {
			t.Error("unrelated fields must not change")
		}
	})

	t.Run("stale timestamp never regresses", func(t *testing.T) {
		stale := first
		stale.LastSeenAt = t0.Add(-time.Hour)
		if err := s.Upsert(ctx, stale); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		got, _ := s.Get(ctx, "teams", first.ConversationID)
		if !got.LastSeenAt.Equal(t1) {
			t.Errorf("LastSeenAt = %v, want %v (must not regress)", got.LastSeenAt, t1)
		}
	})

	t.Run("empty fields never clobber", func(t *testing.T) {
		partial := ConversationReference{
			Provider:       "teams",
			ConversationID: first.ConversationID,
			LastSeenAt:     t1.Add(time.Minute),
		}
		if err := s.Upsert(ctx, partial); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		got, _ := s.Get(ctx, "teams", first.ConversationID)
		if got.ServiceURL != first.ServiceURL {
			t.Errorf("ServiceURL = %q, want %q", got.ServiceURL, first.ServiceURL)
		}
		if got.TenantID != first.TenantID {
			t.Errorf("TenantID = %q, want %q", got.TenantID, first.TenantID)
		}
		if got.ConversationType != bus.ConversationChannel {
			t.Errorf("ConversationType = %q, want channel", got.ConversationType)
		}
	})
}

func TestMemoryGetMiss(t *testing.T) {
	s := NewMemoryRefStore()
	_, err := s.Get(context.Background(), "teams", "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryListFiltersByProvider(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRefStore()

	for _, ref := range []ConversationReference{
		{Provider: "teams", ConversationID: "b", LastSeenAt: time.Now()},
		{Provider: "teams", ConversationID: "a", LastSeenAt: time.Now()},
		{Provider: "other", ConversationID: "c", LastSeenAt: time.Now()},
	} {
		if err := s.Upsert(ctx, ref); err != nil {
			t.Fatal(err)
		}
	}

	refs, err := s.List(ctx, "teams")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("len = %d, want 2", len(refs))
	}
	if refs[0].ConversationID != "a" || refs[1].ConversationID != "b" {
		t.Errorf("List not sorted by conversation id: %v", refs)
	}
}

func TestRefFromEvent(t *testing.T) {
	ts := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	ev := bus.InboundEvent{
		Provider:         "teams",
		ConversationID:   "a:1",
		ConversationType: bus.ConversationDirect,
		ServiceURL:       "https://smba.example.com/emea/",
		TenantID:         "tenant-1",
		Timestamp:        ts,
	}
	ref := RefFromEvent(ev)
	if ref.ConversationID != "a:1" || !ref.LastSeenAt.Equal(ts) {
		t.Errorf("unexpected ref: %+v", ref)
	}

	// Missing timestamp falls back to now.
	ev.Timestamp = time.Time{}
	if RefFromEvent(ev).LastSeenAt.IsZero() {
		t.Error("zero event timestamp should fall back to now")
	}
}

func TestMemoryConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRefStore()

	done := make(chan struct{})
	base := time.Now()
	for i := 0; i < 2; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				_ = s.Upsert(ctx, ConversationReference{
					Provider:       "teams",
					ConversationID: "shared",
					ServiceURL:     "https://smba.example.com/emea/",
					LastSeenAt:     base.Add(time.Duration(n*100+j) * time.Millisecond),
				})
			}
		}(i)
	}
	<-done
	<-done

	got, err := s.Get(ctx, "teams", "shared")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := base.Add(199 * time.Millisecond)
	if !got.LastSeenAt.Equal(want) {
		t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, want)
	}
}
