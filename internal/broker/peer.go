package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chiquitav2/psk-broker/pkg/logger"
	"github.com/chiquitav2/psk-broker/pkg/secret"
)

// ErrClosed is returned by a handle whose backend has been released.
var ErrClosed = errors.New("broker handle closed")

// Opener opens a backend for one interface.
type Opener func(iface InterfaceName) (Broker, error)

// Shared is a reference-counted backend handle shared by every BrokerPeer on
// one interface. Calls are serialized, so the backend sees a single caller.
type Shared struct {
	mu      sync.Mutex
	backend Broker
	iface   InterfaceName
	refs    int
	closed  bool
}

// SetPSK forwards to the backend under the handle lock.
func (s *Shared) SetPSK(ctx context.Context, cfg SerializedBrokerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return NewError(KindInternal, "set_psk", ErrClosed)
	}
	return Classify("set_psk", s.backend.SetPSK(ctx, cfg))
}

// Name returns the backend name.
func (s *Shared) Name() string { return s.backend.Name() }

// Refs returns the number of peers holding the handle.
func (s *Shared) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Pool hands out one Shared backend per interface.
type Pool struct {
	mu       sync.Mutex
	open     Opener
	shared   map[InterfaceName]*Shared
	logger   *logger.Logger
	observer Observer
}

// PoolOption configures a pool.
type PoolOption func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l *logger.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithObserver registers an observer for every install made through the pool.
func WithObserver(o Observer) PoolOption {
	return func(p *Pool) { p.observer = o }
}

// NewPool creates a pool around open.
func NewPool(open Opener, opts ...PoolOption) *Pool {
	p := &Pool{
		open:   open,
		shared: make(map[InterfaceName]*Shared),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.NewNop()
	}
	p.logger = p.logger.WithComponent("broker.pool")
	return p
}

// AddPeer binds peer to the interface's shared backend, opening it on first
// use.
func (p *Pool) AddPeer(iface string, peer secret.Public, params []string) (*BrokerPeer, error) {
	name, err := ParseInterfaceName([]byte(iface))
	if err != nil {
		return nil, err
	}
	encoded, err := EncodeParams(params)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.shared[name]
	if !ok {
		backend, err := p.open(name)
		if err != nil {
			return nil, fmt.Errorf("failed to open backend for %s: %w", name, err)
		}
		s = &Shared{backend: backend, iface: name}
		p.shared[name] = s
		p.logger.Debug("opened shared backend",
			slog.String("interface", string(name)),
			slog.String("backend", backend.Name()))
	}

	s.mu.Lock()
	s.refs++
	s.mu.Unlock()
	p.logger.Debug("peer added",
		slog.String("interface", string(name)),
		slog.String("peer_id", peer.Short()),
		slog.Int("refs", s.Refs()))

	return &BrokerPeer{
		PeerID:    peer,
		Interface: name,
		params:    encoded,
		shared:    s,
		pool:      p,
	}, nil
}

// Handles returns the number of open shared backends.
func (p *Pool) Handles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.shared)
}

// Close releases every backend regardless of outstanding peers.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for name, s := range p.shared {
		s.mu.Lock()
		s.closed = true
		errs = append(errs, s.backend.Close())
		s.mu.Unlock()
		delete(p.shared, name)
	}
	return errors.Join(errs...)
}

func (p *Pool) release(s *Shared) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs--
	if s.refs > 0 || s.closed {
		return nil
	}
	s.closed = true
	delete(p.shared, s.iface)
	p.logger.Debug("released shared backend", slog.String("interface", string(s.iface)))
	return s.backend.Close()
}

// BrokerPeer associates one remote peer with the backend of its interface.
// It is owned by a single entry of the daemon's peer table.
type BrokerPeer struct {
	PeerID    secret.Public
	Interface InterfaceName

	params    []byte
	shared    *Shared
	pool      *Pool
	closeOnce sync.Once
	closeErr  error
}

// Shared returns the backend handle the peer is bound to.
func (bp *BrokerPeer) Shared() *Shared { return bp.shared }

// SetPSK installs psk for the peer. psk stays owned by the caller.
func (bp *BrokerPeer) SetPSK(ctx context.Context, psk *secret.Key) error {
	if psk == nil {
		return NewError(KindInternal, "set_psk", ErrInvalidLength)
	}
	cfg, err := NewSerializedBrokerConfig([]byte(bp.Interface), bp.PeerID[:], psk.Bytes(), bp.params)
	if err != nil {
		return NewError(KindInternal, "set_psk", err)
	}

	ctx = logger.WithInterface(ctx, string(bp.Interface))
	ctx = logger.WithPeerID(ctx, bp.PeerID.Short())
	op := bp.pool.logger.StartOp(ctx, "set_psk", slog.String("backend", bp.shared.Name()))

	err = bp.shared.SetPSK(ctx, cfg)
	if bp.pool.observer != nil {
		bp.pool.observer.Observe(NewOutcome(cfg, bp.shared.Name(), err, op.StartTime))
	}

	switch kind := KindOf(err); {
	case kind == KindNone:
		op.Complete("psk installed")
	case kind.Retryable():
		op.FailWarn(err, "psk not installed, will retry on next handshake")
	default:
		op.Fail(err, "psk installation failed")
	}
	return err
}

// Close drops the peer's reference. The last peer on an interface releases
// the backend.
func (bp *BrokerPeer) Close() error {
	bp.closeOnce.Do(func() {
		bp.closeErr = bp.pool.release(bp.shared)
	})
	return bp.closeErr
}
