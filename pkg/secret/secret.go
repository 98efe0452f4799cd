// Package secret holds the fixed-length key types that flow through the
// broker. A Key is secret material: it never formats its bytes and is wiped
// once the owner is done with it. A Public is a WireGuard public key used as
// the peer identifier.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/chiquitav2/psk-broker/pkg/constanttime"
	"golang.org/x/crypto/curve25519"
)

// KeyLen is the protocol length of both peer identifiers and pre-shared keys.
const KeyLen = 32

// ErrKeyLength is returned when decoded material is not exactly KeyLen bytes.
var ErrKeyLength = fmt.Errorf("key must be exactly %d bytes", KeyLen)

const redacted = "<redacted>"

// Key is a 32-byte secret such as a pre-shared key.
type Key [KeyLen]byte

// NewKey copies b into a fresh Key. b must be exactly KeyLen bytes.
func NewKey(b []byte) (*Key, error) {
	if len(b) != KeyLen {
		return nil, ErrKeyLength
	}
	k := new(Key)
	copy(k[:], b)
	return k, nil
}

// GenerateKey returns a random Key.
func GenerateKey() (*Key, error) {
	k := new(Key)
	if _, err := rand.Read(k[:]); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return k, nil
}

// ParseKey decodes a standard base64 key as written by `wg genpsk`.
func ParseKey(s string) (*Key, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("key is not valid base64: %w", err)
	}
	defer wipeBytes(raw)
	return NewKey(raw)
}

// ReadKeyFile reads a base64 key from path.
func ReadKeyFile(path string) (*Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	defer wipeBytes(data)
	return ParseKey(string(data))
}

// ReadKey reads a base64 key from r, such as stdin. Input beyond a few KiB is
// not read.
func ReadKey(r io.Reader) (*Key, error) {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	defer wipeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	return ParseKey(string(data))
}

// Bytes exposes the key bytes without copying. The slice aliases the key and
// is zeroed by Wipe.
func (k *Key) Bytes() []byte { return k[:] }

// Base64 encodes the key for transports that expect wg's text form.
func (k *Key) Base64() string { return base64.StdEncoding.EncodeToString(k[:]) }

// Equal compares two keys in constant time.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}
	return constanttime.Equal(k[:], other[:])
}

// Wipe zeroes the key in place.
func (k *Key) Wipe() {
	if k == nil {
		return
	}
	wipeBytes(k[:])
}

func (Key) String() string   { return redacted }
func (Key) GoString() string { return redacted }

// Format keeps every fmt verb from printing key material.
func (Key) Format(f fmt.State, _ rune) { _, _ = f.Write([]byte(redacted)) }

func wipeBytes(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}

// Public is a WireGuard public key. It is not secret.
type Public [KeyLen]byte

// NewPublic copies b into a Public. b must be exactly KeyLen bytes.
func NewPublic(b []byte) (Public, error) {
	var p Public
	if len(b) != KeyLen {
		return p, ErrKeyLength
	}
	copy(p[:], b)
	return p, nil
}

// ParsePublic decodes a base64 public key.
func ParsePublic(s string) (Public, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return Public{}, fmt.Errorf("public key is not valid base64: %w", err)
	}
	return NewPublic(raw)
}

// String returns the base64 form used by wg(8).
func (p Public) String() string { return base64.StdEncoding.EncodeToString(p[:]) }

// Short is the truncated form used in log lines.
func (p Public) Short() string { return p.String()[:8] + "..." }

// IsZero reports whether p is all zero bytes.
func (p Public) IsZero() bool { return p == Public{} }

// GenerateKeyPair creates a clamped curve25519 private key and its public
// key. The private key is returned as a Key so it is wiped like any secret.
func GenerateKeyPair() (Public, *Key, error) {
	priv, err := GenerateKey()
	if err != nil {
		return Public{}, nil, err
	}
	clamp(priv)

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		priv.Wipe()
		return Public{}, nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	p, err := NewPublic(pub)
	if err != nil {
		priv.Wipe()
		return Public{}, nil, err
	}
	return p, priv, nil
}

func clamp(k *Key) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
