package broker

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chiquitav2/psk-broker/pkg/secret"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSerializedBrokerConfig_RejectsWrongLengths(t *testing.T) {
	good := make([]byte, secret.KeyLen)

	tests := []struct {
		name   string
		peerID []byte
		psk    []byte
	}{
		{name: "short peer id", peerID: good[:31], psk: good},
		{name: "long psk", peerID: good, psk: append(bytes.Clone(good), 0)},
		{name: "nil psk", peerID: good, psk: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSerializedBrokerConfig([]byte("wg0"), tt.peerID, tt.psk, nil)
			assert.ErrorIs(t, err, ErrInvalidLength)
		})
	}
}

func TestParseInterfaceName(t *testing.T) {
	valid := []string{"wg0", "wg-rosenpass", strings.Repeat("a", MaxInterfaceNameLen)}
	for _, name := range valid {
		got, err := ParseInterfaceName([]byte(name))
		require.NoError(t, err, name)
		assert.Equal(t, name, got.String())
	}

	invalid := []string{"", strings.Repeat("a", MaxInterfaceNameLen+1), "wg 0", "wg/0", "wg\x000", "wg:1"}
	for _, name := range invalid {
		_, err := ParseInterfaceName([]byte(name))
		assert.ErrorIs(t, err, ErrInvalidInterface, "%q", name)
	}
}

func TestNetwork_ConvertsAndCopiesSecret(t *testing.T) {
	peer := bytes.Repeat([]byte{7}, secret.KeyLen)
	psk := bytes.Repeat([]byte{9}, secret.KeyLen)
	params, err := EncodeParams([]string{"allowed-ips", "10.0.0.2/32"})
	require.NoError(t, err)

	cfg, err := NewSerializedBrokerConfig([]byte("wg0"), peer, psk, params)
	require.NoError(t, err)

	ncfg, err := cfg.Network()
	require.NoError(t, err)
	assert.Equal(t, InterfaceName("wg0"), ncfg.Interface)
	assert.Equal(t, peer, ncfg.PeerID[:])
	assert.Equal(t, psk, ncfg.PSK.Bytes())
	assert.Equal(t, []string{"allowed-ips", "10.0.0.2/32"}, ncfg.Params)

	ncfg.Wipe()
	assert.Equal(t, bytes.Repeat([]byte{9}, secret.KeyLen), psk, "wiping the copy leaves the caller's buffer alone")
	assert.Equal(t, secret.Key{}, *ncfg.PSK)
}

func TestNetwork_InvalidInput(t *testing.T) {
	key := make([]byte, secret.KeyLen)

	_, err := SerializedBrokerConfig{Interface: []byte(""), PeerID: key, PSK: key}.Network()
	assert.ErrorIs(t, err, ErrInvalidInterface)

	_, err = SerializedBrokerConfig{Interface: []byte("wg0"), PeerID: key, PSK: key, AdditionalParams: []byte("{")}.Network()
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = SerializedBrokerConfig{Interface: []byte("wg0"), PeerID: key[:1], PSK: key}.Network()
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestNetwork_SerializedRoundTrip(t *testing.T) {
	psk, err := secret.GenerateKey()
	require.NoError(t, err)
	pub, priv, err := secret.GenerateKeyPair()
	require.NoError(t, err)
	priv.Wipe()

	ncfg := NetworkBrokerConfig{Interface: "wg1", PeerID: pub, PSK: psk, Params: []string{"persistent-keepalive", "25"}}
	cfg, err := ncfg.Serialized()
	require.NoError(t, err)

	back, err := cfg.Network()
	require.NoError(t, err)
	defer back.Wipe()
	assert.Equal(t, ncfg.Interface, back.Interface)
	assert.Equal(t, ncfg.PeerID, back.PeerID)
	assert.True(t, ncfg.PSK.Equal(back.PSK))
	assert.Equal(t, ncfg.Params, back.Params)
}

func TestDecodeParams(t *testing.T) {
	params, err := DecodeParams(nil)
	require.NoError(t, err)
	assert.Nil(t, params)

	_, err = DecodeParams([]byte(`["ok", ""]`))
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = DecodeParams([]byte(`{"a": 1}`))
	assert.ErrorIs(t, err, ErrInvalidParams)
}
