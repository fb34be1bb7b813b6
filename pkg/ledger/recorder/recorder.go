// Package recorder writes ledger events asynchronously.
package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"campuscore/keygate/pkg/ledger"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("ledger recorder closed")

// Config contains configuration for the recorder.
type Config struct {
	// BufferSize is the size of the async write channel buffer.
	// Default: 1000
	BufferSize int

	// WriteTimeout bounds both enqueueing on a full buffer and each storage write.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// Recorder is a ledger.Sink that buffers events and writes them to storage
// from a background worker.
type Recorder struct {
	storage ledger.Storage
	config  Config
	events  chan *ledger.Event
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
}

// New creates a recorder and starts its worker.
func New(storage ledger.Storage, config Config) *Recorder {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}

	r := &Recorder{
		storage: storage,
		config:  config,
		events:  make(chan *ledger.Event, config.BufferSize),
		done:    make(chan struct{}),
		logger:  slog.Default().With("component", "ledger.recorder"),
		now:     time.Now,
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("ledger recorder initialized",
		"buffer_size", config.BufferSize,
		"write_timeout", config.WriteTimeout,
	)
	return r
}

// Record enqueues an event. Missing IDs and times are filled in. It returns
// immediately unless the buffer is full, in which case it waits up to
// WriteTimeout before dropping the event.
func (r *Recorder) Record(ctx context.Context, e *ledger.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = r.now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ledger.NewRecorderError(e.ID, ErrClosed)
	}

	select {
	case r.events <- e:
		return nil
	default:
	}

	timer := time.NewTimer(r.config.WriteTimeout)
	defer timer.Stop()

	select {
	case r.events <- e:
		return nil
	case <-timer.C:
		r.logger.Error("ledger buffer full, dropping event",
			"event_id", e.ID,
			"kind", e.Kind,
			"buffer_size", r.config.BufferSize,
		)
		return ledger.NewRecorderError(e.ID, context.DeadlineExceeded)
	case <-ctx.Done():
		return ledger.NewRecorderError(e.ID, ctx.Err())
	}
}

// Close stops accepting events, drains the buffer and waits for pending
// writes. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("ledger recorder shut down")
	return nil
}

// Pending returns the number of buffered events.
func (r *Recorder) Pending() int {
	return len(r.events)
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case e := <-r.events:
			r.write(e)
		case <-r.done:
			for {
				select {
				case e := <-r.events:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(e *ledger.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := r.storage.Store(ctx, e); err != nil {
		r.logger.Error("failed to store ledger event",
			"event_id", e.ID,
			"kind", e.Kind,
			"error", err,
		)
		return
	}

	if d := time.Since(start); d > r.config.WriteTimeout/2 {
		r.logger.Warn("slow ledger write",
			"event_id", e.ID,
			"duration_ms", d.Milliseconds(),
		)
	}
}
