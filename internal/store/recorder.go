package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/andresmejia3/tagvision/internal/types"
)

// Inserter saves one record. *Store implements it.
type Inserter interface {
	InsertRecord(ctx context.Context, sessionID uuid.UUID, rec types.PoseRecord) error
}

// Recorder writes records to the database on its own goroutine. Observe
// never blocks: when the queue is full the record is dropped and counted.
type Recorder struct {
	db      Inserter
	session uuid.UUID
	timeout time.Duration
	queue   chan types.PoseRecord
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	stored  atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// RecorderStats is a snapshot of the recorder counters.
type RecorderStats struct {
	Stored  uint64 `json:"stored"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// NewRecorder starts the insert loop. Each insert is bounded by timeout
// (0 means no bound). Records still queued after ctx is cancelled are
// flushed by Close, each with the same bound.
func NewRecorder(ctx context.Context, db Inserter, session uuid.UUID, queue int, timeout time.Duration) *Recorder {
	if queue < 1 {
		queue = 1
	}
	r := &Recorder{
		db:      db,
		session: session,
		timeout: timeout,
		queue:   make(chan types.PoseRecord, queue),
		done:    make(chan struct{}),
	}
	go r.loop(context.WithoutCancel(ctx))
	return r
}

func (r *Recorder) loop(ctx context.Context) {
	defer close(r.done)
	for rec := range r.queue {
		if err := r.insert(ctx, rec); err != nil {
			r.failed.Add(1)
			slog.Warn("failed to record pose", "session", r.session, "error", err)
			continue
		}
		r.stored.Add(1)
	}
}

func (r *Recorder) insert(ctx context.Context, rec types.PoseRecord) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.db.InsertRecord(ctx, r.session, rec)
}

// Observe queues rec. It matches the pipeline observer signature.
func (r *Recorder) Observe(rec types.PoseRecord, _ error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		if r.dropped.Add(1) == 1 {
			slog.Warn("recorder falling behind, dropping poses", "session", r.session)
		}
	}
}

// Close stops accepting records and waits for the queue to drain.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

// Stats returns the current counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Stored:  r.stored.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
	}
}
