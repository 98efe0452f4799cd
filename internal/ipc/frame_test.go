package ipc

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiquitav2/psk-broker/internal/broker"
	"github.com/chiquitav2/psk-broker/internal/broker/brokertest"
)

type failReader struct{ t *testing.T }

func (r failReader) Read([]byte) (int, error) {
	r.t.Error("body must not be read")
	return 0, io.ErrUnexpectedEOF
}

func testConfig(t *testing.T, iface string, params []string) broker.SerializedBrokerConfig {
	t.Helper()
	peer := brokertest.MustPeer()
	raw, err := broker.EncodeParams(params)
	require.NoError(t, err)
	cfg, err := broker.NewSerializedBrokerConfig([]byte(iface), peer[:], brokertest.MustKey().Bytes(), raw)
	require.NoError(t, err)
	return cfg
}

func header(size uint32) []byte {
	var h [4]byte
	binary.BigEndian.PutUint32(h[:], size)
	return h[:]
}

func TestRequestRoundTrip(t *testing.T) {
	cfg := testConfig(t, "wg0", []string{"persistent-keepalive", "25"})

	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, cfg, DefaultMaxFrameSize))
	assert.Equal(t, 4+RequestSize(cfg), buf.Len())
	assert.Equal(t, uint32(RequestSize(cfg)), binary.BigEndian.Uint32(buf.Bytes()))

	req, err := ReadRequest(&buf, DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.Equal(t, cfg.Interface, req.Config.Interface)
	assert.Equal(t, cfg.PeerID, req.Config.PeerID)
	assert.Equal(t, cfg.PSK, req.Config.PSK)
	assert.Equal(t, cfg.AdditionalParams, req.Config.AdditionalParams)

	psk := req.Config.PSK
	req.Wipe()
	assert.Equal(t, make([]byte, 32), psk)
}

func TestRequestRoundTrip_NoParams(t *testing.T) {
	cfg := testConfig(t, "wg0", nil)

	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, cfg, DefaultMaxFrameSize))
	req, err := ReadRequest(&buf, DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.Nil(t, req.Config.AdditionalParams)
	assert.Equal(t, "wg0", string(req.Config.Interface))
}

func TestReadRequest_OversizeRejectedBeforeBody(t *testing.T) {
	for _, size := range []uint32{DefaultMaxFrameSize + 1, 0xffffffff} {
		r := io.MultiReader(bytes.NewReader(header(size)), failReader{t})
		_, err := ReadRequest(r, DefaultMaxFrameSize)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
		assert.Equal(t, broker.KindInternal, broker.KindOf(err))
	}
}

func TestReadRequest_Malformed(t *testing.T) {
	valid := func() []byte {
		var buf bytes.Buffer
		require.NoError(t, WriteRequest(&buf, testConfig(t, "wg0", []string{"x"}), DefaultMaxFrameSize))
		return buf.Bytes()
	}

	t.Run("body shorter than fixed fields", func(t *testing.T) {
		frame := append(header(10), make([]byte, 10)...)
		_, err := ReadRequest(bytes.NewReader(frame), DefaultMaxFrameSize)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("interface length overruns", func(t *testing.T) {
		frame := valid()
		binary.BigEndian.PutUint16(frame[4:], 0xffff)
		_, err := ReadRequest(bytes.NewReader(frame), DefaultMaxFrameSize)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("params length mismatch", func(t *testing.T) {
		frame := valid()
		off := 4 + 2 + 3 + 32 + 32
		binary.BigEndian.PutUint32(frame[off:], 1)
		_, err := ReadRequest(bytes.NewReader(frame), DefaultMaxFrameSize)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("stream ends after header", func(t *testing.T) {
		_, err := ReadRequest(bytes.NewReader(header(100)), DefaultMaxFrameSize)
		var ferr *FrameError
		require.ErrorAs(t, err, &ferr)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		assert.NotErrorIs(t, err, io.EOF)
	})

	t.Run("truncated body", func(t *testing.T) {
		frame := valid()
		_, err := ReadRequest(bytes.NewReader(frame[:len(frame)-1]), DefaultMaxFrameSize)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

func TestReadRequest_EOF(t *testing.T) {
	_, err := ReadRequest(bytes.NewReader(nil), DefaultMaxFrameSize)
	assert.Equal(t, io.EOF, err)

	_, err = ReadRequest(bytes.NewReader([]byte{0, 0}), DefaultMaxFrameSize)
	var ferr *FrameError
	require.ErrorAs(t, err, &ferr)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestEncodeRequest_Rejects(t *testing.T) {
	cfg := testConfig(t, "wg0", nil)

	short := cfg
	short.PSK = short.PSK[:31]
	_, err := EncodeRequest(short, DefaultMaxFrameSize)
	assert.ErrorIs(t, err, broker.ErrInvalidLength)

	_, err = EncodeRequest(cfg, RequestSize(cfg)-1)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestResponseRoundTrip(t *testing.T) {
	for _, tag := range []Tag{TagOK, TagNoSuchInterface, TagNoSuchPeer, TagInternal} {
		var buf bytes.Buffer
		require.NoError(t, WriteResponse(&buf, tag))
		assert.Equal(t, []byte{0, 0, 0, 1, byte(tag)}, buf.Bytes())

		got, err := ReadResponse(&buf)
		require.NoError(t, err)
		assert.Equal(t, tag, got)
	}
}

func TestReadResponse_Invalid(t *testing.T) {
	_, err := ReadResponse(bytes.NewReader([]byte{0, 0, 0, 2, 0, 0}))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ReadResponse(bytes.NewReader([]byte{0, 0, 0, 1, 9}))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ReadResponse(bytes.NewReader([]byte{0, 0, 0}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestTagMapping(t *testing.T) {
	assert.Equal(t, TagOK, TagOf(nil))
	assert.NoError(t, TagOK.Err())

	for _, k := range []broker.Kind{broker.KindNoSuchInterface, broker.KindNoSuchPeer, broker.KindInternal} {
		tag := TagOf(broker.NewError(k, "op", nil))
		assert.Equal(t, k, tag.Kind())
		assert.Equal(t, k, broker.KindOf(tag.Err()))
	}
	assert.Equal(t, TagInternal, TagOf(io.EOF))
}
