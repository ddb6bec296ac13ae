package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/org/healthgate/internal/storage"
	"github.com/org/healthgate/pkg/models"
)

type auditStore struct {
	storage.Store
	mu      sync.Mutex
	entries []*models.AuditEntry
	err     error
	block   chan struct{}
}

func (s *auditStore) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

func TestRecordWritesEntry(t *testing.T) {
	store := &auditStore{}
	rec := NewRecorder(store, time.Second)

	rec.Record(context.Background(), &models.AuditEntry{
		ActorSubject: "doc-1",
		Action:       models.ActionLogin,
		Outcome:      models.AuditSuccess,
	})
	rec.Close()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(store.entries))
	}
	if store.entries[0].Timestamp.IsZero() {
		t.Error("timestamp should be stamped on record")
	}
}

func TestRecordSurvivesRequestCancellation(t *testing.T) {
	store := &auditStore{}
	rec := NewRecorder(store, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // request already gone
	rec.Record(ctx, &models.AuditEntry{Action: models.ActionPatientView, Outcome: models.AuditSuccess})
	rec.Close()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.entries) != 1 {
		t.Fatalf("expected 1 entry despite cancelled request, got %d", len(store.entries))
	}
}

func TestRecordSwallowsWriteFailure(t *testing.T) {
	store := &auditStore{err: errors.New("db down")}
	rec := NewRecorder(store, time.Second)

	// Must not panic or surface the error.
	rec.Record(context.Background(), &models.AuditEntry{Action: models.ActionLogin, Outcome: models.AuditFailed})
	rec.Close()
}

func TestRecordDropsWhenQueueFull(t *testing.T) {
	store := &auditStore{block: make(chan struct{})}
	rec := NewRecorder(store, time.Second)

	// The writer is stuck on the first entry, so the queue fills; the
	// overflow must be dropped, not block the callers.
	total := queueDepth + 10
	filled := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			rec.Record(context.Background(), &models.AuditEntry{Action: models.ActionLogin})
		}
		close(filled)
	}()
	select {
	case <-filled:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked while the queue was full")
	}

	close(store.block)
	rec.Close()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.entries) > queueDepth+1 {
		t.Errorf("wrote %d entries, queue should cap at %d", len(store.entries), queueDepth+1)
	}
	if len(store.entries) == total {
		t.Error("no entries were dropped despite a full queue")
	}
}

func TestRecordDoesNotBlockCaller(t *testing.T) {
	store := &auditStore{block: make(chan struct{})}
	rec := NewRecorder(store, 50*time.Millisecond)

	done := make(chan struct{})
	go func() {
		rec.Record(context.Background(), &models.AuditEntry{Action: models.ActionLogin})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked the caller")
	}
	rec.Close() // write times out on its own budget
}
