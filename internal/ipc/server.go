package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chiquitav2/psk-broker/internal/broker"
	"github.com/chiquitav2/psk-broker/pkg/logger"
)

// Server answers requests from Clients using a local backend.
type Server struct {
	backend  broker.Broker
	maxFrame int
	logger   *logger.Logger
	observer broker.Observer

	// dispatch serializes backend calls across connections.
	dispatch sync.Mutex

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerMaxFrameSize caps the size of accepted requests.
func WithServerMaxFrameSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxFrame = n
		}
	}
}

// WithServerLogger sets the server logger.
func WithServerLogger(l *logger.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithServerObserver reports every dispatched request.
func WithServerObserver(o broker.Observer) ServerOption {
	return func(s *Server) { s.observer = o }
}

// NewServer creates a server around backend. The server does not close it.
func NewServer(backend broker.Broker, opts ...ServerOption) *Server {
	s := &Server{
		backend:  backend,
		maxFrame: DefaultMaxFrameSize,
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.NewNop()
	}
	s.logger = s.logger.WithComponent("ipc.server")
	return s
}

// Serve accepts connections on ln until ctx is done, handling each one in
// its own goroutine. It closes ln and every open connection before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.logger.Info("serving", slog.String("addr", ln.Addr().String()), slog.String("backend", s.backend.Name()))

	var err error
	for {
		var conn net.Conn
		conn, err = ln.Accept()
		if err != nil {
			break
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.ServeConn(ctx, conn); err != nil {
				s.logger.Debug("connection ended", slog.String("error", err.Error()))
			}
		}()
	}

	s.closeConns()
	s.wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("accept failed: %w", err)
}

// ServeConn handles requests on conn until the peer hangs up, a frame is
// malformed or ctx is done. A malformed frame is answered with an internal
// error before the connection is closed since the stream cannot be resynced.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	s.track(conn)
	defer s.untrack(conn)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	id := uuid.NewString()
	ctx = logger.WithConnID(ctx, id)
	log := s.logger.WithContext(ctx)
	log.Debug("connection accepted")

	for {
		req, err := ReadRequest(conn, s.maxFrame)
		if err == io.EOF {
			log.Debug("connection closed by peer")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ferr *FrameError
			if errors.As(err, &ferr) && !errors.Is(err, net.ErrClosed) {
				log.Warn("rejecting malformed request", slog.String("error", err.Error()))
				_ = WriteResponse(conn, TagInternal)
			}
			return fmt.Errorf("conn %s: %w", logger.GetConnID(ctx), err)
		}

		tag := s.handle(ctx, req)
		req.Wipe()

		if err := WriteResponse(conn, tag); err != nil {
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, req *Request) (tag Tag) {
	ctx = logger.WithRequestID(ctx, uuid.NewString())
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorCtx(ctx, "backend panicked",
				fmt.Errorf("panic in request %s: %v", logger.GetRequestID(ctx), r))
			tag = TagInternal
		}
	}()

	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	err := s.backend.SetPSK(ctx, req.Config)
	if s.observer != nil {
		s.observer.Observe(broker.NewOutcome(req.Config, s.backend.Name(), err, started))
	}
	tag = TagOf(err)

	if err != nil {
		s.logger.WithContext(ctx).Debug("request failed",
			slog.String("interface", string(req.Config.Interface)),
			slog.String("error_kind", tag.Kind().Code()))
	}
	return tag
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
	_ = conn.Close()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}
