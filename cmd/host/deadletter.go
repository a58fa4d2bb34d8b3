package main

import (
	"context"
	"log/slog"

	"github.com/nanoclaw/host/internal/queue"
)

// logDeadLetterer satisfies queue.DeadLetterer by logging an exhausted
// batch at error level. The schema carries no dead_letters table — a
// poison batch is rare enough (retry budget exhaustion after repeated
// invoker failures) that an operator grepping host logs is an adequate
// escalation path for this pass; a durable table is a natural follow-up if
// that stops being true.
type logDeadLetterer struct {
	logger *slog.Logger
}

func (d logDeadLetterer) DeadLetter(ctx context.Context, group string, batch []queue.Message, reason string) error {
	d.logger.Error("batch dead-lettered", "group", group, "batch_size", len(batch), "reason", reason)
	return nil
}
