package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/presencekit/presenced/internal/events"
	"github.com/presencekit/presenced/internal/models"
)

// ErrDeliveryFailed marks a webhook delivery that failed after exhausting
// its retry budget. The triggering state change has already been applied;
// callers must treat presence success and delivery success as independent.
var ErrDeliveryFailed = errors.New("webhook delivery failed")

// Notifier receives every transition the engine emits, strictly after the
// store mutation has completed.
type Notifier interface {
	Notify(ctx context.Context, event models.TransitionEvent) error
}

// LocalNotifier publishes transitions to the event bus and nothing else.
// It is the cache-driver notifier and the inner layer of WebhookNotifier.
type LocalNotifier struct {
	bus events.Bus
}

func NewLocalNotifier(bus events.Bus) *LocalNotifier {
	return &LocalNotifier{bus: bus}
}

func (n *LocalNotifier) Notify(ctx context.Context, event models.TransitionEvent) error {
	if err := n.bus.Publish(ctx, event); err != nil {
		return fmt.Errorf("failed to publish transition event: %w", err)
	}
	return nil
}
