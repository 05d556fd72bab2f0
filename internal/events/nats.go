package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/presencekit/presenced/internal/models"
)

const subjectPrefix = "presence.event."

// NATSBus publishes transition events as JSON to presence.event.<kind>
// subjects, e.g. presence.event.came_online.
type NATSBus struct {
	nc *nats.Conn
}

func NewNATSBus(nc *nats.Conn) *NATSBus {
	return &NATSBus{nc: nc}
}

func (b *NATSBus) Publish(_ context.Context, event models.TransitionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transition event: %w", err)
	}
	if err := b.nc.Publish(subjectPrefix+string(event.Kind), data); err != nil {
		return fmt.Errorf("failed to publish transition event: %w", err)
	}
	return nil
}
