package broker_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chiquitav2/psk-broker/internal/broker"
	"github.com/chiquitav2/psk-broker/internal/broker/brokertest"
	"github.com/chiquitav2/psk-broker/pkg/secret"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingOpener struct {
	mu     sync.Mutex
	opened map[broker.InterfaceName]*brokertest.Fake
	setup  func(f *brokertest.Fake)
}

func (o *countingOpener) open(iface broker.InterfaceName) (broker.Broker, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.opened == nil {
		o.opened = make(map[broker.InterfaceName]*brokertest.Fake)
	}
	f := brokertest.New()
	if o.setup != nil {
		o.setup(f)
	}
	o.opened[iface] = f
	return f, nil
}

func TestPool_SharesOneBackendPerInterface(t *testing.T) {
	peerA, peerB := brokertest.MustPeer(), brokertest.MustPeer()
	opener := &countingOpener{setup: func(f *brokertest.Fake) {
		f.AddDevice("wg0", peerA, peerB)
	}}
	pool := broker.NewPool(opener.open)

	a, err := pool.AddPeer("wg0", peerA, nil)
	require.NoError(t, err)
	b, err := pool.AddPeer("wg0", peerB, nil)
	require.NoError(t, err)
	c, err := pool.AddPeer("wg1", peerA, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, pool.Handles())
	assert.Len(t, opener.opened, 2)
	assert.Same(t, a.Shared(), b.Shared())
	assert.NotSame(t, a.Shared(), c.Shared())
	assert.Equal(t, 2, a.Shared().Refs())
	assert.Equal(t, 1, c.Shared().Refs())

	fake := opener.opened["wg0"]
	require.NoError(t, a.Close())
	assert.False(t, fake.Closed, "backend stays open while another peer references it")
	require.NoError(t, a.Close(), "closing twice is harmless")
	assert.Equal(t, 1, b.Shared().Refs())

	require.NoError(t, b.Close())
	assert.True(t, fake.Closed, "last peer releases the backend")
	assert.Equal(t, 1, pool.Handles())

	require.NoError(t, c.Close())
	assert.Equal(t, 0, pool.Handles())
}

func TestBrokerPeer_SetPSK_Idempotent(t *testing.T) {
	peer := brokertest.MustPeer()
	opener := &countingOpener{setup: func(f *brokertest.Fake) { f.AddDevice("wg0", peer) }}

	var outcomes []broker.Outcome
	pool := broker.NewPool(opener.open, broker.WithObserver(broker.ObserverFunc(func(o broker.Outcome) {
		outcomes = append(outcomes, o)
	})))

	bp, err := pool.AddPeer("wg0", peer, nil)
	require.NoError(t, err)
	defer bp.Close()

	psk := brokertest.MustKey()
	require.NoError(t, bp.SetPSK(context.Background(), psk))
	require.NoError(t, bp.SetPSK(context.Background(), psk))

	got, ok := opener.opened["wg0"].PSK("wg0", peer)
	require.True(t, ok)
	assert.True(t, psk.Equal(&got))

	require.Len(t, outcomes, 2)
	assert.Equal(t, broker.KindNone, outcomes[0].Kind)
	assert.Equal(t, peer, outcomes[0].PeerID)
	assert.Equal(t, "fake", outcomes[0].Backend)
}

func TestBrokerPeer_SetPSK_Errors(t *testing.T) {
	known, unknown := brokertest.MustPeer(), brokertest.MustPeer()
	opener := &countingOpener{setup: func(f *brokertest.Fake) { f.AddDevice("wg0", known) }}
	pool := broker.NewPool(opener.open)

	missingIface, err := pool.AddPeer("wg9", known, nil)
	require.NoError(t, err)
	err = missingIface.SetPSK(context.Background(), brokertest.MustKey())
	assert.ErrorIs(t, err, broker.ErrNoSuchInterface)

	missingPeer, err := pool.AddPeer("wg0", unknown, nil)
	require.NoError(t, err)
	err = missingPeer.SetPSK(context.Background(), brokertest.MustKey())
	assert.ErrorIs(t, err, broker.ErrNoSuchPeer)
	assert.Equal(t, 0, opener.opened["wg0"].Updates)

	err = missingPeer.SetPSK(context.Background(), nil)
	assert.ErrorIs(t, err, broker.ErrInternal)
}

func TestPool_AddPeer_Validation(t *testing.T) {
	pool := broker.NewPool(func(broker.InterfaceName) (broker.Broker, error) {
		return nil, errors.New("no netlink")
	})

	_, err := pool.AddPeer("", secret.Public{}, nil)
	assert.ErrorIs(t, err, broker.ErrInvalidInterface)

	_, err = pool.AddPeer("wg0", secret.Public{}, []string{""})
	assert.ErrorIs(t, err, broker.ErrInvalidParams)

	_, err = pool.AddPeer("wg0", secret.Public{}, nil)
	assert.ErrorContains(t, err, "no netlink")
	assert.Equal(t, 0, pool.Handles())
}

func TestPool_CloseReleasesEverything(t *testing.T) {
	peer := brokertest.MustPeer()
	opener := &countingOpener{setup: func(f *brokertest.Fake) { f.AddDevice("wg0", peer) }}
	pool := broker.NewPool(opener.open)

	bp, err := pool.AddPeer("wg0", peer, nil)
	require.NoError(t, err)
	require.NoError(t, pool.Close())
	assert.True(t, opener.opened["wg0"].Closed)

	err = bp.SetPSK(context.Background(), brokertest.MustKey())
	assert.ErrorIs(t, err, broker.ErrClosed)
	assert.NoError(t, bp.Close())
}
