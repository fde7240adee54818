package telegram

import (
	"context"
	"log"

	"delegated-billing/internal/domain/ports/adapter"
)

var _ adapter.OpsNotifier = (*NoopNotifier)(nil)

// NoopNotifier implements adapter.OpsNotifier for local/dev use.
// It logs alerts instead of delivering them.
type NoopNotifier struct{}

func NewNoopNotifier() *NoopNotifier { return &NoopNotifier{} }

func (n *NoopNotifier) Name() string { return "noop" }

func (n *NoopNotifier) Alert(_ context.Context, subject, body string) error {
	log.Printf("[noop-notifier] %s: %s\n", subject, body)
	return nil
}
