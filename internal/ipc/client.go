package ipc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/chiquitav2/psk-broker/internal/broker"
	"github.com/chiquitav2/psk-broker/pkg/logger"
)

// BackendName is reported by Client.Name.
const BackendName = "ipc"

// ErrPoisoned is returned once the stream is in an unknown state.
var ErrPoisoned = errors.New("ipc connection unusable after earlier failure")

// Client forwards SetPSK calls to a Server over one connection. Requests are
// sent one at a time.
type Client struct {
	mu       sync.Mutex
	conn     net.Conn
	maxFrame int
	timeout  time.Duration
	broken   error
	logger   *logger.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMaxFrameSize caps the size of requests the client sends.
func WithMaxFrameSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxFrame = n
		}
	}
}

// WithTimeout bounds a round trip when the context carries no deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *logger.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient takes ownership of conn.
func NewClient(conn net.Conn, opts ...ClientOption) *Client {
	c := &Client{conn: conn, maxFrame: DefaultMaxFrameSize}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.NewNop()
	}
	c.logger = c.logger.WithComponent("ipc.client")
	return c
}

func (c *Client) Name() string { return BackendName }

// SetPSK sends one request and waits for its response. A transport failure,
// including a timeout, poisons the client: the stream can no longer be
// trusted to be at a frame boundary and every later call fails.
func (c *Client) SetPSK(ctx context.Context, cfg broker.SerializedBrokerConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return broker.NewError(broker.KindInternal, "ipc.set_psk", errors.Join(ErrPoisoned, c.broken))
	}
	buf, err := EncodeRequest(cfg, c.maxFrame)
	if err != nil {
		return broker.Classify("ipc.set_psk", err)
	}
	defer clear(buf)

	deadline, ok := ctx.Deadline()
	if !ok && c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return c.poison(err)
	}
	defer c.conn.SetDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := c.conn.Write(buf); err != nil {
		return c.poison(&FrameError{Op: "write_request", Err: err})
	}
	tag, err := ReadResponse(c.conn)
	if err != nil {
		return c.poison(err)
	}
	return tag.Err()
}

func (c *Client) poison(err error) error {
	c.broken = err
	c.logger.Warn("ipc connection poisoned", slog.String("error", err.Error()))
	return broker.NewError(broker.KindInternal, "ipc.set_psk", err)
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken == nil {
		c.broken = net.ErrClosed
	}
	return c.conn.Close()
}
