package events

import (
	"fmt"
	"log/slog"

	"github.com/gookit/event"

	"github.com/chiquitav2/psk-broker/internal/broker"
	"github.com/chiquitav2/psk-broker/pkg/logger"
)

// Bus wraps a gookit event manager for broker outcomes. It implements
// broker.Observer.
type Bus struct {
	bus    *event.Manager
	logger *logger.Logger
}

// NewBus creates a new event bus.
func NewBus(l *logger.Logger) *Bus {
	if l == nil {
		l = logger.NewNop()
	}
	return &Bus{
		bus:    event.NewManager("psk-broker"),
		logger: l.WithComponent("events"),
	}
}

// Observe publishes o as an installed or failed event.
func (b *Bus) Observe(o broker.Outcome) {
	var err error
	if o.Kind == broker.KindNone {
		err = b.PublishInstalled(o)
	} else {
		err = b.PublishFailed(o)
	}
	if err != nil {
		b.logger.Warn("dropped broker outcome", slog.String("error", err.Error()))
	}
}

// PublishInstalled publishes a psk.installed event.
func (b *Bus) PublishInstalled(o broker.Outcome) error {
	payload := PSKInstalledEvent{
		Interface: o.Interface,
		PeerID:    o.PeerID.String(),
		Backend:   o.Backend,
		Duration:  o.Duration,
		Timestamp: o.At,
	}

	b.logger.Debug("publishing psk installed event",
		slog.String("interface", o.Interface),
		slog.String("peer_id", o.PeerID.Short()))

	return b.fire(EventPSKInstalled, payload)
}

// PublishFailed publishes a psk.failed event.
func (b *Bus) PublishFailed(o broker.Outcome) error {
	payload := PSKFailedEvent{
		Interface: o.Interface,
		PeerID:    o.PeerID.String(),
		Backend:   o.Backend,
		ErrorKind: o.Kind.Code(),
		Retryable: o.Kind.Retryable(),
		Duration:  o.Duration,
		Timestamp: o.At,
	}

	b.logger.Debug("publishing psk failed event",
		slog.String("interface", o.Interface),
		slog.String("peer_id", o.PeerID.Short()),
		slog.String("error_kind", payload.ErrorKind))

	return b.fire(EventPSKFailed, payload)
}

func (b *Bus) fire(name string, payload any) error {
	err, _ := b.bus.Fire(name, event.M{"payload": payload})
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", name, err)
	}
	return nil
}

// SubscribeToInstalled subscribes to psk.installed events.
func (b *Bus) SubscribeToInstalled(listener event.Listener) {
	b.bus.On(EventPSKInstalled, listener, event.Normal)
}

// SubscribeToFailed subscribes to psk.failed events.
func (b *Bus) SubscribeToFailed(listener event.Listener) {
	b.bus.On(EventPSKFailed, listener, event.Normal)
}

// Close removes every listener.
func (b *Bus) Close() error {
	b.bus.Clear()
	return nil
}
