// Package broker defines the contract every PSK backend implements, the
// request view handed to it and the error taxonomy returned to callers.
//
// A Broker installs a pre-shared key for an existing WireGuard peer. The
// backends live in subpackages: netlink talks to the kernel directly, cli
// drives wg(8), and ipc forwards requests to a privileged broker process.
//
// # Guarantees
//
// SetPSK is idempotent. KindNoSuchInterface and KindNoSuchPeer are decided
// before anything is mutated. KindInternal may be returned after a mutation
// was attempted; the native subsystem treats the update as one atomic call and
// this layer does not roll it back. Nothing in this package retries.
//
// A Broker instance owns one transport resource and is not safe for
// concurrent use. Share it through Pool, which serializes calls.
package broker

import (
	"context"
	"io"
	"time"

	"github.com/chiquitav2/psk-broker/pkg/secret"
)

// Broker is the capability contract of a PSK backend.
type Broker interface {
	// SetPSK installs cfg.PSK for cfg.PeerID on cfg.Interface. Errors are
	// always *Error values.
	SetPSK(ctx context.Context, cfg SerializedBrokerConfig) error

	// Name identifies the backend in logs and events.
	Name() string

	io.Closer
}

// Outcome describes a finished SetPSK call without any secret material.
type Outcome struct {
	Interface string
	PeerID    secret.Public
	Backend   string
	Kind      Kind
	Duration  time.Duration
	At        time.Time
}

// Observer receives outcomes, e.g. an event bus.
type Observer interface {
	Observe(Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Outcome)

func (f ObserverFunc) Observe(o Outcome) { f(o) }

// NewOutcome builds the outcome of a call from the request view.
func NewOutcome(cfg SerializedBrokerConfig, backend string, err error, started time.Time) Outcome {
	o := Outcome{
		Interface: string(cfg.Interface),
		Backend:   backend,
		Kind:      KindOf(err),
		Duration:  time.Since(started),
		At:        time.Now(),
	}
	if p, perr := secret.NewPublic(cfg.PeerID); perr == nil {
		o.PeerID = p
	}
	return o
}
