// Package brokertest provides an in-memory broker.Broker for tests.
package brokertest

import (
	"context"
	"sync"

	"github.com/chiquitav2/psk-broker/internal/broker"
	"github.com/chiquitav2/psk-broker/pkg/secret"
)

// Fake models a set of WireGuard devices and their peers in memory. It
// follows the same check-then-update order as the real backends.
type Fake struct {
	mu      sync.Mutex
	devices map[string]map[secret.Public]secret.Key

	// Err, when set, fails every update after the existence checks.
	Err error
	// Block, when set, is received from before every call.
	Block chan struct{}

	Calls   int
	Updates int
	Closed  bool
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{devices: make(map[string]map[secret.Public]secret.Key)}
}

// AddDevice creates an interface with the given peers.
func (f *Fake) AddDevice(iface string, peers ...secret.Public) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dev, ok := f.devices[iface]
	if !ok {
		dev = make(map[secret.Public]secret.Key)
		f.devices[iface] = dev
	}
	for _, p := range peers {
		dev[p] = secret.Key{}
	}
}

// RemovePeer deletes a peer, simulating a concurrent removal.
func (f *Fake) RemovePeer(iface string, peer secret.Public) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.devices[iface], peer)
}

// PSK returns the key currently installed for peer.
func (f *Fake) PSK(iface string, peer secret.Public) (secret.Key, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.devices[iface][peer]
	return k, ok
}

func (f *Fake) SetPSK(_ context.Context, cfg broker.SerializedBrokerConfig) error {
	if f.Block != nil {
		<-f.Block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++

	ncfg, err := cfg.Network()
	if err != nil {
		return broker.NewError(broker.KindNoSuchInterface, "fake.set_psk", err)
	}
	defer ncfg.Wipe()

	dev, ok := f.devices[string(ncfg.Interface)]
	if !ok {
		return broker.NewError(broker.KindNoSuchInterface, "fake.get_device", nil)
	}
	if _, ok := dev[ncfg.PeerID]; !ok {
		return broker.NewError(broker.KindNoSuchPeer, "fake.find_peer", nil)
	}
	if f.Err != nil {
		return broker.NewError(broker.KindInternal, "fake.set_device", f.Err)
	}

	f.Updates++
	dev[ncfg.PeerID] = *ncfg.PSK
	return nil
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// MustPeer generates a random peer id.
func MustPeer() secret.Public {
	pub, priv, err := secret.GenerateKeyPair()
	if err != nil {
		panic(err)
	}
	priv.Wipe()
	return pub
}

// MustKey generates a random PSK.
func MustKey() *secret.Key {
	k, err := secret.GenerateKey()
	if err != nil {
		panic(err)
	}
	return k
}
