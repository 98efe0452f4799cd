// Package cli installs PSKs by driving wg(8), locally or over SSH. It is the
// fallback for hosts where the netlink backend cannot be used.
package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/chiquitav2/psk-broker/internal/broker"
	"github.com/chiquitav2/psk-broker/pkg/logger"
	"github.com/chiquitav2/psk-broker/pkg/secret"
)

const (
	// BackendName is reported by Name.
	BackendName = "cli"
	// DefaultCommand is the wg binary looked up in PATH.
	DefaultCommand = "wg"
)

// Extra arguments that would change what the command does.
var forbiddenParams = map[string]bool{
	"peer":          true,
	"preshared-key": true,
	"private-key":   true,
	"remove":        true,
}

var (
	interfaceMissing = []string{"No such device", "Unable to access interface"}
	peerMissing      = []string{"No such peer", "peer not found"}
)

// Error is the cli backend's native error.
type Error struct {
	Op       string
	Kind     broker.Kind
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "wg %s: %s", e.Op, e.Kind)
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, ": %s", e.Stderr)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// BrokerKind implements broker.Classifier.
func (e *Error) BrokerKind() broker.Kind { return e.Kind }

// Broker drives wg(8) through a Runner.
type Broker struct {
	runner  Runner
	command string
	logger  *logger.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithCommand overrides the wg binary.
func WithCommand(path string) Option {
	return func(b *Broker) {
		if path != "" {
			b.command = path
		}
	}
}

// WithLogger sets the backend logger.
func WithLogger(l *logger.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// New creates a backend running commands through runner, or locally when
// runner is nil. The broker takes ownership of runner.
func New(runner Runner, opts ...Option) *Broker {
	if runner == nil {
		runner = ExecRunner{}
	}
	b := &Broker{runner: runner, command: DefaultCommand}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.NewNop()
	}
	b.logger = b.logger.WithComponent("broker.cli")
	return b
}

func (b *Broker) Name() string { return BackendName }

// SetPSK lists the interface's peers first, so that missing interfaces and
// peers are reported without running a mutating command, then pipes the
// base64 PSK into `wg set ... preshared-key /dev/stdin`.
//
// wg(8) has no update-only mode: a peer removed between the two commands is
// re-created with only the PSK set.
func (b *Broker) SetPSK(ctx context.Context, cfg broker.SerializedBrokerConfig) error {
	ncfg, err := cfg.Network()
	if err != nil {
		return b.fail("convert_config", broker.KindNoSuchInterface, Result{}, err)
	}
	defer ncfg.Wipe()

	for _, p := range ncfg.Params {
		if forbiddenParams[p] {
			return b.fail("convert_config", broker.KindNoSuchInterface, Result{},
				fmt.Errorf("%w: %q is not allowed", broker.ErrInvalidParams, p))
		}
	}

	iface := string(ncfg.Interface)
	peer := ncfg.PeerID.String()

	res, err := b.runner.Run(ctx, b.command, []string{"show", iface, "peers"}, nil)
	if err != nil {
		return b.fail("show", broker.KindInternal, res, err)
	}
	if res.ExitCode != 0 {
		return b.fail("show", classifyStderr(res.Stderr), res, nil)
	}
	if !listsPeer(res.Stdout, peer) {
		return b.fail("show", broker.KindNoSuchPeer, res, nil)
	}

	stdin := make([]byte, base64.StdEncoding.EncodedLen(secret.KeyLen)+1)
	defer clear(stdin)
	base64.StdEncoding.Encode(stdin, ncfg.PSK.Bytes())
	stdin[len(stdin)-1] = '\n'

	args := append([]string{"set", iface, "peer", peer, "preshared-key", "/dev/stdin"}, ncfg.Params...)
	res, err = b.runner.Run(ctx, b.command, args, stdin)
	if err != nil {
		return b.fail("set", broker.KindInternal, res, err)
	}
	if res.ExitCode != 0 {
		return b.fail("set", classifyStderr(res.Stderr), res, nil)
	}

	b.logger.Trace("peer updated", slog.String("interface", iface), slog.String("peer_id", ncfg.PeerID.Short()))
	return nil
}

func (b *Broker) fail(op string, kind broker.Kind, res Result, err error) error {
	return broker.Classify(op, &Error{
		Op:       op,
		Kind:     kind,
		ExitCode: res.ExitCode,
		Stderr:   strings.TrimSpace(string(res.Stderr)),
		Err:      err,
	})
}

// Close closes the runner when it holds a connection.
func (b *Broker) Close() error {
	if c, ok := b.runner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func classifyStderr(stderr []byte) broker.Kind {
	s := string(stderr)
	for _, m := range interfaceMissing {
		if strings.Contains(s, m) {
			return broker.KindNoSuchInterface
		}
	}
	for _, m := range peerMissing {
		if strings.Contains(s, m) {
			return broker.KindNoSuchPeer
		}
	}
	return broker.KindInternal
}

func listsPeer(stdout []byte, peer string) bool {
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == peer {
			return true
		}
	}
	return false
}
