// Package queue implements the Group Queue: one FIFO worker goroutine per
// group_folder, coalescing pending messages into container turns and
// bounded by the container runner's global concurrency semaphore, not by
// a worker-count config of its own.
package queue

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Message is one pending inbound message for a group, as surfaced by Store.
type Message struct {
	IngestSeq int64
	ChatJID   string
	Body      string
}

// Store is the durable message/cursor surface a group worker polls.
type Store interface {
	GroupCursor(ctx context.Context, group string) (int64, error)
	MessagesAfter(ctx context.Context, group string, cursorSeq int64, limit int) ([]Message, error)
	AdvanceCursor(ctx context.Context, group string, seq int64) error
}

// Invoker runs one coalesced turn for a group. A non-nil error means the
// batch should be retried (or dead-lettered once retries are exhausted).
type Invoker interface {
	Invoke(ctx context.Context, group, prompt string, batch []Message) error
}

// DeadLetterer records a batch that exhausted its retry budget instead of
// silently dropping it.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, group string, batch []Message, reason string) error
}

// Config controls per-group worker behavior.
type Config struct {
	PollInterval time.Duration
	BatchLimit   int
	MaxRetries   int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	Logger       *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 50
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// CoalescePrompt joins a batch's message bodies into the single turn
// prompt the container runner receives, in ingest order.
func CoalescePrompt(batch []Message) string {
	parts := make([]string, 0, len(batch))
	for _, m := range batch {
		parts = append(parts, m.Body)
	}
	return strings.Join(parts, "\n")
}

// Manager owns one worker goroutine per group_folder, created lazily on
// first Notify.
type Manager struct {
	store   Store
	invoker Invoker
	dead    DeadLetterer
	cfg     Config

	mu      sync.Mutex
	workers map[string]*groupWorker
	rootCtx context.Context
}

// NewManager creates a Manager. rootCtx governs every group worker's
// lifetime; workers also stop individually via Manager.StopGroup or
// collectively via Manager.Stop.
func NewManager(rootCtx context.Context, store Store, invoker Invoker, dead DeadLetterer, cfg Config) *Manager {
	return &Manager{
		store:   store,
		invoker: invoker,
		dead:    dead,
		cfg:     cfg.withDefaults(),
		workers: make(map[string]*groupWorker),
		rootCtx: rootCtx,
	}
}

// Notify wakes (starting it if necessary) the worker for group. Safe to
// call from any goroutine; idempotent when a wake is already pending.
func (m *Manager) Notify(group string) {
	m.mu.Lock()
	w, ok := m.workers[group]
	if !ok {
		w = newGroupWorker(group, m.store, m.invoker, m.dead, m.cfg)
		m.workers[group] = w
		w.start(m.rootCtx)
	}
	m.mu.Unlock()
	w.wake()
}

// Cancel drains group's in-memory pending wake and invokes closeFn (which
// should write the IPC `_close` sentinel) to request graceful termination
// of any currently running container. It does not interrupt an in-flight
// Invoke call.
func (m *Manager) Cancel(group string, closeFn func() error) {
	m.mu.Lock()
	w, ok := m.workers[group]
	m.mu.Unlock()
	if !ok {
		return
	}
	w.cancel(closeFn, m.cfg.Logger)
}

// Stop stops every group worker and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	workers := make([]*groupWorker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()
	for _, w := range workers {
		w.stop()
	}
}

// GroupCount reports the number of group workers created so far, for
// metrics/tests.
func (m *Manager) GroupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}
