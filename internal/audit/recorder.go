// Package audit records every authenticated action as a detached side
// effect of request handling.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/healthgate/internal/storage"
	"github.com/org/healthgate/pkg/models"
)

const (
	defaultWriteTimeout = 3 * time.Second
	queueDepth          = 256
)

type job struct {
	ctx   context.Context
	entry *models.AuditEntry
}

// Recorder writes audit entries without blocking the request path. Entries
// go through a bounded queue drained by a single writer goroutine; each
// write detaches from the request's cancellation but gets its own bounded
// timeout. A full queue drops the entry rather than stall a request.
// Failures are logged and swallowed; they must not fail the action they
// describe.
type Recorder struct {
	store   storage.Store
	timeout time.Duration
	queue   chan job
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewRecorder creates a Recorder and starts its writer. A non-positive
// timeout falls back to the default.
func NewRecorder(store storage.Store, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	r := &Recorder{
		store:   store,
		timeout: timeout,
		queue:   make(chan job, queueDepth),
		done:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case j := <-r.queue:
			r.write(j)
		case <-r.done:
			for {
				select {
				case j := <-r.queue:
					r.write(j)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(j job) {
	writeCtx, cancel := context.WithTimeout(j.ctx, r.timeout)
	defer cancel()
	if err := r.store.WriteAuditEntry(writeCtx, j.entry); err != nil {
		log.Warn().Err(err).
			Str("action", j.entry.Action).
			Str("actor", j.entry.ActorSubject).
			Msg("audit write failed")
	}
}

// Record queues one entry for writing and returns immediately. If the queue
// is full the entry is dropped with a warning.
func (r *Recorder) Record(ctx context.Context, entry *models.AuditEntry) {
	entry.Timestamp = time.Now().UTC()
	select {
	case r.queue <- job{ctx: context.WithoutCancel(ctx), entry: entry}:
	default:
		log.Warn().
			Str("action", entry.Action).
			Str("actor", entry.ActorSubject).
			Msg("audit queue full, entry dropped")
	}
}

// Query retrieves audit log entries.
func (r *Recorder) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	return r.store.QueryAuditLog(ctx, filter)
}

// Close drains queued writes and stops the writer. Call on shutdown.
func (r *Recorder) Close() {
	close(r.done)
	r.wg.Wait()
}
