package broker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode"

	"github.com/chiquitav2/psk-broker/pkg/secret"
)

// MaxInterfaceNameLen is IFNAMSIZ minus the trailing NUL on Linux.
const MaxInterfaceNameLen = 15

var (
	ErrInvalidLength    = fmt.Errorf("peer id and psk must be exactly %d bytes", secret.KeyLen)
	ErrInvalidInterface = errors.New("invalid interface name")
	ErrInvalidParams    = errors.New("invalid additional params")
)

// InterfaceName is a validated network device name.
type InterfaceName string

// ParseInterfaceName validates raw as a device name.
func ParseInterfaceName(raw []byte) (InterfaceName, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: empty", ErrInvalidInterface)
	}
	if len(raw) > MaxInterfaceNameLen {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidInterface, len(raw), MaxInterfaceNameLen)
	}
	for _, r := range string(raw) {
		if r == 0 || r == '/' || r == ':' || unicode.IsSpace(r) || r == unicode.ReplacementChar {
			return "", fmt.Errorf("%w: %q", ErrInvalidInterface, raw)
		}
	}
	return InterfaceName(raw), nil
}

func (n InterfaceName) String() string { return string(n) }

// SerializedBrokerConfig is one "install this PSK for this peer" request. It
// borrows its slices from the caller and owns nothing.
type SerializedBrokerConfig struct {
	Interface        []byte
	PeerID           []byte
	PSK              []byte
	AdditionalParams []byte
}

// NewSerializedBrokerConfig builds a request view, failing instead of
// truncating or padding when peerID or psk have the wrong length.
func NewSerializedBrokerConfig(iface, peerID, psk, params []byte) (SerializedBrokerConfig, error) {
	cfg := SerializedBrokerConfig{
		Interface:        iface,
		PeerID:           peerID,
		PSK:              psk,
		AdditionalParams: params,
	}
	if err := cfg.Validate(); err != nil {
		return SerializedBrokerConfig{}, err
	}
	return cfg, nil
}

// Validate checks the fixed-length fields.
func (c SerializedBrokerConfig) Validate() error {
	if len(c.PeerID) != secret.KeyLen || len(c.PSK) != secret.KeyLen {
		return ErrInvalidLength
	}
	return nil
}

// NetworkBrokerConfig is the validated form consumed by backends. PSK is a
// private copy and must be released with Wipe.
type NetworkBrokerConfig struct {
	Interface InterfaceName
	PeerID    secret.Public
	PSK       *secret.Key
	Params    []string
}

// Network converts the request into backend-native types. It is the only
// place requests are validated.
func (c SerializedBrokerConfig) Network() (NetworkBrokerConfig, error) {
	if err := c.Validate(); err != nil {
		return NetworkBrokerConfig{}, err
	}
	iface, err := ParseInterfaceName(c.Interface)
	if err != nil {
		return NetworkBrokerConfig{}, err
	}
	params, err := DecodeParams(c.AdditionalParams)
	if err != nil {
		return NetworkBrokerConfig{}, err
	}
	peer, err := secret.NewPublic(c.PeerID)
	if err != nil {
		return NetworkBrokerConfig{}, err
	}
	psk, err := secret.NewKey(c.PSK)
	if err != nil {
		return NetworkBrokerConfig{}, err
	}
	return NetworkBrokerConfig{
		Interface: iface,
		PeerID:    peer,
		PSK:       psk,
		Params:    params,
	}, nil
}

// Wipe zeroes the PSK copy.
func (n NetworkBrokerConfig) Wipe() { n.PSK.Wipe() }

// Serialized returns a view over n. The PSK slice aliases n.PSK.
func (n NetworkBrokerConfig) Serialized() (SerializedBrokerConfig, error) {
	params, err := EncodeParams(n.Params)
	if err != nil {
		return SerializedBrokerConfig{}, err
	}
	return SerializedBrokerConfig{
		Interface:        []byte(n.Interface),
		PeerID:           n.PeerID[:],
		PSK:              n.PSK.Bytes(),
		AdditionalParams: params,
	}, nil
}

// EncodeParams serializes backend extra arguments. No arguments encode to nil.
func EncodeParams(params []string) ([]byte, error) {
	if len(params) == 0 {
		return nil, nil
	}
	if err := checkParams(params); err != nil {
		return nil, err
	}
	return json.Marshal(params)
}

// DecodeParams parses additional_params: empty, or a JSON array of strings.
func DecodeParams(raw []byte) ([]string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var params []string
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if err := checkParams(params); err != nil {
		return nil, err
	}
	return params, nil
}

func checkParams(params []string) error {
	for _, p := range params {
		if p == "" {
			return fmt.Errorf("%w: empty argument", ErrInvalidParams)
		}
		if bytes.ContainsRune([]byte(p), 0) {
			return fmt.Errorf("%w: NUL in argument", ErrInvalidParams)
		}
	}
	return nil
}
