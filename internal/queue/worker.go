package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// groupWorker drains one group's backlog, one coalesced batch at a time,
// until the backlog is empty, then goes idle until woken again.
type groupWorker struct {
	group   string
	store   Store
	invoker Invoker
	dead    DeadLetterer
	cfg     Config

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	stopOnce sync.Once
}

func newGroupWorker(group string, store Store, invoker Invoker, dead DeadLetterer, cfg Config) *groupWorker {
	return &groupWorker{
		group:   group,
		store:   store,
		invoker: invoker,
		dead:    dead,
		cfg:     cfg,
		wakeCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (w *groupWorker) wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// cancel drains any pending wake (so a stale signal doesn't immediately
// re-trigger a drain loop once closeFn lands) and invokes closeFn. It
// never touches an Invoke call already in flight.
func (w *groupWorker) cancel(closeFn func() error, logger *slog.Logger) {
	select {
	case <-w.wakeCh:
	default:
	}
	if closeFn == nil {
		return
	}
	if err := closeFn(); err != nil && logger != nil {
		logger.Error("group queue cancel", "group", w.group, "error", err)
	}
}

func (w *groupWorker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *groupWorker) start(ctx context.Context) {
	go w.run(ctx)
}

func (w *groupWorker) run(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.wakeCh:
			w.drain(ctx)
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain pops and processes batches until the backlog is empty or a batch
// cannot be fetched, at which point the worker goes idle again.
func (w *groupWorker) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		cursor, err := w.store.GroupCursor(ctx, w.group)
		if err != nil {
			w.cfg.Logger.Error("group queue cursor lookup", "group", w.group, "error", err)
			return
		}
		batch, err := w.store.MessagesAfter(ctx, w.group, cursor, w.cfg.BatchLimit)
		if err != nil {
			w.cfg.Logger.Error("group queue fetch batch", "group", w.group, "error", err)
			return
		}
		if len(batch) == 0 {
			return
		}
		if !w.processBatch(ctx, batch) {
			return
		}
	}
}

// processBatch invokes one turn for batch, retrying with exponential
// backoff up to MaxRetries+1 attempts. On exhaustion it dead-letters the
// batch and still advances the cursor past it, so a poison batch leaves
// the queue idle rather than spinning forever. Returns false when the
// caller should stop draining (context/stop signaled mid-retry).
func (w *groupWorker) processBatch(ctx context.Context, batch []Message) bool {
	prompt := CoalescePrompt(batch)
	lastSeq := batch[len(batch)-1].IngestSeq

	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-w.stopCh:
				return false
			case <-time.After(w.backoff(attempt)):
			}
		}

		lastErr = w.invoker.Invoke(ctx, w.group, prompt, batch)
		if lastErr == nil {
			if err := w.store.AdvanceCursor(ctx, w.group, lastSeq); err != nil {
				w.cfg.Logger.Error("group queue advance cursor", "group", w.group, "error", err)
				return false
			}
			return true
		}
		w.cfg.Logger.Warn("group queue invoke attempt failed", "group", w.group, "attempt", attempt, "error", lastErr)
	}

	reason := fmt.Sprintf("exhausted %d retries: %v", w.cfg.MaxRetries, lastErr)
	if err := w.dead.DeadLetter(ctx, w.group, batch, reason); err != nil {
		w.cfg.Logger.Error("group queue dead letter", "group", w.group, "error", err)
	}
	if err := w.store.AdvanceCursor(ctx, w.group, lastSeq); err != nil {
		w.cfg.Logger.Error("group queue advance cursor past dead letter", "group", w.group, "error", err)
		return false
	}
	return true
}

// backoff returns an exponential delay with jitter, capped at MaxBackoff.
func (w *groupWorker) backoff(attempt int) time.Duration {
	d := w.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= w.cfg.MaxBackoff {
			d = w.cfg.MaxBackoff
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	d += jitter
	if d > w.cfg.MaxBackoff {
		d = w.cfg.MaxBackoff
	}
	return d
}
