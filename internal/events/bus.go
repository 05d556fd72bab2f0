package events

import (
	"context"
	"sync"

	"github.com/presencekit/presenced/internal/models"
)

// Bus receives every presence transition the engine emits.
type Bus interface {
	Publish(ctx context.Context, event models.TransitionEvent) error
}

// Handler consumes transition events from an InProcessBus subscription.
type Handler func(event models.TransitionEvent)

// InProcessBus fans events out to in-process subscribers, synchronously and
// in subscription order. It is the default bus when no NATS URL is
// configured, and the one tests subscribe to.
type InProcessBus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewInProcessBus() *InProcessBus {
	return &InProcessBus{}
}

func (b *InProcessBus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

func (b *InProcessBus) Publish(_ context.Context, event models.TransitionEvent) error {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
	return nil
}
