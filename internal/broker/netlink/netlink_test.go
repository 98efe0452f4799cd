package netlink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/chiquitav2/psk-broker/internal/broker"
	"github.com/chiquitav2/psk-broker/internal/broker/brokertest"
	"github.com/chiquitav2/psk-broker/pkg/secret"
)

// fakeClient mimics the kernel: an update-only peer config for an unknown
// peer is rejected.
type fakeClient struct {
	devices   map[string]*wgtypes.Device
	deviceErr error
	dropPeer  bool

	deviceCalls int
	configs     []wgtypes.Config
	closed      bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{devices: make(map[string]*wgtypes.Device)}
}

func (f *fakeClient) addDevice(name string, peers ...secret.Public) {
	dev := &wgtypes.Device{Name: name}
	for _, p := range peers {
		dev.Peers = append(dev.Peers, wgtypes.Peer{PublicKey: wgtypes.Key(p)})
	}
	f.devices[name] = dev
}

func (f *fakeClient) Device(name string) (*wgtypes.Device, error) {
	f.deviceCalls++
	if f.deviceErr != nil {
		return nil, f.deviceErr
	}
	dev, ok := f.devices[name]
	if !ok {
		return nil, fmt.Errorf("wgctrl: %w", os.ErrNotExist)
	}
	cp := *dev
	cp.Peers = append([]wgtypes.Peer(nil), dev.Peers...)
	if f.dropPeer {
		dev.Peers = nil
	}
	return &cp, nil
}

func (f *fakeClient) ConfigureDevice(name string, cfg wgtypes.Config) error {
	f.configs = append(f.configs, cfg)
	dev, ok := f.devices[name]
	if !ok {
		return os.ErrNotExist
	}
	for _, pc := range cfg.Peers {
		found := false
		for i := range dev.Peers {
			if dev.Peers[i].PublicKey == pc.PublicKey {
				found = true
				if pc.PresharedKey != nil {
					dev.Peers[i].PresharedKey = *pc.PresharedKey
				}
			}
		}
		if !found && pc.UpdateOnly {
			return errors.New("no such peer for update-only config")
		}
	}
	return nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func request(t *testing.T, iface string, peer secret.Public, psk *secret.Key) broker.SerializedBrokerConfig {
	t.Helper()
	cfg, err := broker.NewSerializedBrokerConfig([]byte(iface), peer[:], psk.Bytes(), nil)
	require.NoError(t, err)
	return cfg
}

func TestSetPSK_InstallsUpdateOnly(t *testing.T) {
	peer := brokertest.MustPeer()
	fc := newFakeClient()
	fc.addDevice("wg0", peer)
	b := NewWithClient(fc)

	psk := brokertest.MustKey()
	require.NoError(t, b.SetPSK(context.Background(), request(t, "wg0", peer, psk)))

	require.Len(t, fc.configs, 1)
	cfg := fc.configs[0]
	assert.False(t, cfg.ReplacePeers)
	assert.Nil(t, cfg.PrivateKey)
	require.Len(t, cfg.Peers, 1)
	pc := cfg.Peers[0]
	assert.True(t, pc.UpdateOnly)
	assert.False(t, pc.Remove)
	assert.False(t, pc.ReplaceAllowedIPs)
	assert.Equal(t, wgtypes.Key(peer), pc.PublicKey)

	// The key handed to wgctrl is scrubbed once the call returns.
	require.NotNil(t, pc.PresharedKey)
	assert.Equal(t, wgtypes.Key{}, *pc.PresharedKey)
	assert.Equal(t, wgtypes.Key(*psk), fc.devices["wg0"].Peers[0].PresharedKey)
}

func TestSetPSK_Idempotent(t *testing.T) {
	peer := brokertest.MustPeer()
	fc := newFakeClient()
	fc.addDevice("wg0", peer)
	b := NewWithClient(fc)

	psk := brokertest.MustKey()
	for i := 0; i < 3; i++ {
		require.NoError(t, b.SetPSK(context.Background(), request(t, "wg0", peer, psk)))
	}
	assert.Equal(t, wgtypes.Key(*psk), fc.devices["wg0"].Peers[0].PresharedKey)
	assert.Len(t, fc.devices["wg0"].Peers, 1)
}

func TestSetPSK_NoSuchInterface(t *testing.T) {
	peer := brokertest.MustPeer()
	fc := newFakeClient()
	fc.addDevice("wg0", peer)
	b := NewWithClient(fc)

	err := b.SetPSK(context.Background(), request(t, "wg1", peer, brokertest.MustKey()))
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrNoSuchInterface)
	assert.Empty(t, fc.configs, "nothing may be mutated")

	var nerr *Error
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "get_device", nerr.Op)
}

func TestSetPSK_InvalidConfigIsNoSuchInterface(t *testing.T) {
	fc := newFakeClient()
	b := NewWithClient(fc)

	peer := brokertest.MustPeer()
	cfg := request(t, "wg0", peer, brokertest.MustKey())
	cfg.Interface = []byte("this-name-is-too-long")

	err := b.SetPSK(context.Background(), cfg)
	assert.ErrorIs(t, err, broker.ErrNoSuchInterface)
	assert.ErrorIs(t, err, broker.ErrInvalidInterface)
	assert.Zero(t, fc.deviceCalls)
}

func TestSetPSK_NoSuchPeer(t *testing.T) {
	fc := newFakeClient()
	fc.addDevice("wg0", brokertest.MustPeer())
	b := NewWithClient(fc)

	err := b.SetPSK(context.Background(), request(t, "wg0", brokertest.MustPeer(), brokertest.MustKey()))
	assert.ErrorIs(t, err, broker.ErrNoSuchPeer)
	assert.Empty(t, fc.configs)
}

func TestSetPSK_PeerRemovedDuringUpdate(t *testing.T) {
	peer := brokertest.MustPeer()
	fc := newFakeClient()
	fc.addDevice("wg0", peer)
	fc.dropPeer = true
	b := NewWithClient(fc)

	err := b.SetPSK(context.Background(), request(t, "wg0", peer, brokertest.MustKey()))
	assert.ErrorIs(t, err, broker.ErrInternal)
	assert.NotErrorIs(t, err, broker.ErrNoSuchPeer)
}

func TestSetPSK_DeviceErrorIsInternal(t *testing.T) {
	fc := newFakeClient()
	fc.deviceErr = errors.New("permission denied")
	b := NewWithClient(fc)

	err := b.SetPSK(context.Background(), request(t, "wg0", brokertest.MustPeer(), brokertest.MustKey()))
	assert.ErrorIs(t, err, broker.ErrInternal)
	assert.Equal(t, broker.KindInternal, broker.KindOf(err))
}

func TestSetPSK_CanceledContext(t *testing.T) {
	fc := newFakeClient()
	b := NewWithClient(fc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.SetPSK(ctx, request(t, "wg0", brokertest.MustPeer(), brokertest.MustKey()))
	assert.ErrorIs(t, err, broker.ErrInternal)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fc.deviceCalls)
}

func TestClose(t *testing.T) {
	fc := newFakeClient()
	b := NewWithClient(fc)
	assert.Equal(t, BackendName, b.Name())
	require.NoError(t, b.Close())
	assert.True(t, fc.closed)
}
