package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/chiquitav2/psk-broker/internal/broker"
	"github.com/chiquitav2/psk-broker/pkg/secret"
)

// DefaultMaxFrameSize bounds a request body.
const DefaultMaxFrameSize = 64 << 10

const (
	lenPrefix = 4
	// u16 interface length + peer id + psk + u32 params length
	fixedBody = 2 + secret.KeyLen + secret.KeyLen + 4
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrMalformed     = errors.New("malformed frame")
)

// FrameError reports a framing failure. It always maps to an internal error.
type FrameError struct {
	Op  string
	Err error
}

func (e *FrameError) Error() string { return fmt.Sprintf("ipc %s: %v", e.Op, e.Err) }

func (e *FrameError) Unwrap() error { return e.Err }

// BrokerKind implements broker.Classifier.
func (e *FrameError) BrokerKind() broker.Kind { return broker.KindInternal }

// Tag is the single byte carried by a response.
type Tag uint8

const (
	TagOK Tag = iota
	TagNoSuchInterface
	TagNoSuchPeer
	TagInternal
)

// TagOf maps a SetPSK result to its response tag.
func TagOf(err error) Tag {
	switch broker.KindOf(err) {
	case broker.KindNone:
		return TagOK
	case broker.KindNoSuchInterface:
		return TagNoSuchInterface
	case broker.KindNoSuchPeer:
		return TagNoSuchPeer
	default:
		return TagInternal
	}
}

// Kind is the inverse of TagOf.
func (t Tag) Kind() broker.Kind {
	switch t {
	case TagOK:
		return broker.KindNone
	case TagNoSuchInterface:
		return broker.KindNoSuchInterface
	case TagNoSuchPeer:
		return broker.KindNoSuchPeer
	default:
		return broker.KindInternal
	}
}

// Err rebuilds the error seen by the remote backend. Only the kind survives.
func (t Tag) Err() error {
	if t == TagOK {
		return nil
	}
	return broker.NewError(t.Kind(), "ipc.remote", nil)
}

// Request is a decoded request owning its buffer.
type Request struct {
	Config broker.SerializedBrokerConfig
	buf    []byte
}

// Wipe zeroes the buffer holding the request, PSK included.
func (r *Request) Wipe() {
	clear(r.buf)
	r.Config = broker.SerializedBrokerConfig{}
}

// RequestSize returns the encoded body size of cfg.
func RequestSize(cfg broker.SerializedBrokerConfig) int {
	return fixedBody + len(cfg.Interface) + len(cfg.AdditionalParams)
}

// EncodeRequest encodes cfg as one frame. The caller owns the returned buffer
// and should clear it once written.
func EncodeRequest(cfg broker.SerializedBrokerConfig, maxFrame int) ([]byte, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &FrameError{Op: "encode_request", Err: err}
	}
	if len(cfg.Interface) > math.MaxUint16 {
		return nil, &FrameError{Op: "encode_request", Err: fmt.Errorf("%w: interface name of %d bytes", ErrMalformed, len(cfg.Interface))}
	}
	size := RequestSize(cfg)
	if size > maxFrame {
		return nil, &FrameError{Op: "encode_request", Err: fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, maxFrame)}
	}

	buf := make([]byte, lenPrefix+size)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], uint32(size))
	off += lenPrefix
	binary.BigEndian.PutUint16(buf[off:], uint16(len(cfg.Interface)))
	off += 2
	off += copy(buf[off:], cfg.Interface)
	off += copy(buf[off:], cfg.PeerID)
	off += copy(buf[off:], cfg.PSK)
	binary.BigEndian.PutUint32(buf[off:], uint32(len(cfg.AdditionalParams)))
	off += 4
	copy(buf[off:], cfg.AdditionalParams)
	return buf, nil
}

// WriteRequest encodes cfg and writes it with a single Write.
func WriteRequest(w io.Writer, cfg broker.SerializedBrokerConfig, maxFrame int) error {
	buf, err := EncodeRequest(cfg, maxFrame)
	if err != nil {
		return err
	}
	defer clear(buf)

	if _, err := w.Write(buf); err != nil {
		return &FrameError{Op: "write_request", Err: err}
	}
	return nil
}

// ReadRequest reads one frame. The declared length is checked against
// maxFrame before the body buffer is allocated. A clean end of stream before
// the first byte of a frame returns io.EOF unwrapped; ending anywhere later is
// io.ErrUnexpectedEOF.
func ReadRequest(r io.Reader, maxFrame int) (*Request, error) {
	var hdr [lenPrefix]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &FrameError{Op: "read_header", Err: err}
	}

	size := binary.BigEndian.Uint32(hdr[:])
	if uint64(size) > uint64(maxFrame) {
		return nil, &FrameError{Op: "read_header", Err: fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, maxFrame)}
	}
	if size < fixedBody {
		return nil, &FrameError{Op: "read_header", Err: fmt.Errorf("%w: body of %d bytes", ErrMalformed, size)}
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		clear(buf)
		if err == io.EOF {
			// the header arrived, so the stream ended inside a frame
			err = io.ErrUnexpectedEOF
		}
		return nil, &FrameError{Op: "read_body", Err: err}
	}

	cfg, err := parseBody(buf)
	if err != nil {
		clear(buf)
		return nil, &FrameError{Op: "decode_request", Err: err}
	}
	return &Request{Config: cfg, buf: buf}, nil
}

func parseBody(buf []byte) (broker.SerializedBrokerConfig, error) {
	ifLen := int(binary.BigEndian.Uint16(buf))
	off := 2
	if len(buf) < fixedBody+ifLen {
		return broker.SerializedBrokerConfig{}, fmt.Errorf("%w: interface length %d overruns body", ErrMalformed, ifLen)
	}

	cfg := broker.SerializedBrokerConfig{}
	cfg.Interface = buf[off : off+ifLen : off+ifLen]
	off += ifLen
	cfg.PeerID = buf[off : off+secret.KeyLen : off+secret.KeyLen]
	off += secret.KeyLen
	cfg.PSK = buf[off : off+secret.KeyLen : off+secret.KeyLen]
	off += secret.KeyLen

	paramsLen := int(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	if paramsLen != len(buf)-off {
		return broker.SerializedBrokerConfig{}, fmt.Errorf("%w: params length %d, %d bytes left", ErrMalformed, paramsLen, len(buf)-off)
	}
	if paramsLen > 0 {
		cfg.AdditionalParams = buf[off:]
	}
	return cfg, nil
}

// WriteResponse writes a response frame.
func WriteResponse(w io.Writer, tag Tag) error {
	var buf [lenPrefix + 1]byte
	binary.BigEndian.PutUint32(buf[:], 1)
	buf[lenPrefix] = byte(tag)
	if _, err := w.Write(buf[:]); err != nil {
		return &FrameError{Op: "write_response", Err: err}
	}
	return nil
}

// ReadResponse reads a response frame.
func ReadResponse(r io.Reader) (Tag, error) {
	var buf [lenPrefix + 1]byte
	if _, err := io.ReadFull(r, buf[:lenPrefix]); err != nil {
		return TagInternal, &FrameError{Op: "read_response", Err: err}
	}
	if n := binary.BigEndian.Uint32(buf[:]); n != 1 {
		return TagInternal, &FrameError{Op: "read_response", Err: fmt.Errorf("%w: response length %d", ErrMalformed, n)}
	}
	if _, err := io.ReadFull(r, buf[lenPrefix:]); err != nil {
		return TagInternal, &FrameError{Op: "read_response", Err: err}
	}
	tag := Tag(buf[lenPrefix])
	if tag > TagInternal {
		return TagInternal, &FrameError{Op: "read_response", Err: fmt.Errorf("%w: unknown tag %d", ErrMalformed, tag)}
	}
	return tag, nil
}
