// Package netlink installs PSKs through the kernel's WireGuard generic
// netlink family using wgctrl.
package netlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/chiquitav2/psk-broker/internal/broker"
	"github.com/chiquitav2/psk-broker/pkg/logger"
)

// BackendName is reported by Name.
const BackendName = "netlink"

// ErrNoNetAdmin is returned by Available when the process lacks
// CAP_NET_ADMIN, without which the kernel refuses device updates.
var ErrNoNetAdmin = errors.New("CAP_NET_ADMIN is not in the effective set")

// Client is the subset of *wgctrl.Client used by the backend.
type Client interface {
	Device(name string) (*wgtypes.Device, error)
	ConfigureDevice(name string, cfg wgtypes.Config) error
	Close() error
}

// Error is the netlink backend's native error.
type Error struct {
	Op   string
	Kind broker.Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("netlink %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("netlink %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// BrokerKind implements broker.Classifier.
func (e *Error) BrokerKind() broker.Kind { return e.Kind }

func newError(op string, kind broker.Kind, err error) error {
	return broker.Classify(op, &Error{Op: op, Kind: kind, Err: err})
}

// Broker owns one wgctrl client, i.e. one netlink socket.
type Broker struct {
	client Client
	logger *logger.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the backend logger.
func WithLogger(l *logger.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// New opens a netlink socket to the kernel.
func New(opts ...Option) (*Broker, error) {
	c, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open wireguard netlink client: %w", err)
	}
	return NewWithClient(c, opts...), nil
}

// NewWithClient wraps an existing client. The broker takes ownership of c.
func NewWithClient(c Client, opts ...Option) *Broker {
	b := &Broker{client: c}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.NewNop()
	}
	b.logger = b.logger.WithComponent("broker.netlink")
	return b
}

func (b *Broker) Name() string { return BackendName }

// SetPSK checks that the interface and peer exist and then sends a single
// update-only peer configuration carrying the PSK.
//
// A peer removed between the check and the update makes the kernel reject the
// update; that surfaces as an internal error rather than NoSuchPeer.
func (b *Broker) SetPSK(ctx context.Context, cfg broker.SerializedBrokerConfig) error {
	ncfg, err := cfg.Network()
	if err != nil {
		return newError("convert_config", broker.KindNoSuchInterface, err)
	}
	defer ncfg.Wipe()

	if err := ctx.Err(); err != nil {
		return newError("set_psk", broker.KindInternal, err)
	}

	iface := string(ncfg.Interface)
	dev, err := b.client.Device(iface)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newError("get_device", broker.KindNoSuchInterface, err)
		}
		return newError("get_device", broker.KindInternal, err)
	}

	peer := wgtypes.Key(ncfg.PeerID)
	if !hasPeer(dev, peer) {
		return newError("find_peer", broker.KindNoSuchPeer, nil)
	}

	psk := wgtypes.Key(*ncfg.PSK)
	defer clear(psk[:])

	err = b.client.ConfigureDevice(iface, wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{
			PublicKey:    peer,
			UpdateOnly:   true,
			PresharedKey: &psk,
		}},
	})
	if err != nil {
		return newError("set_device", broker.KindInternal, err)
	}

	b.logger.Trace("peer updated", slog.String("interface", iface), slog.String("peer_id", ncfg.PeerID.Short()))
	return nil
}

func hasPeer(dev *wgtypes.Device, key wgtypes.Key) bool {
	for _, p := range dev.Peers {
		if p.PublicKey == key {
			return true
		}
	}
	return false
}

// Close releases the netlink socket.
func (b *Broker) Close() error {
	return b.client.Close()
}
