package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/chiquitav2/psk-broker/pkg/logger"
)

// SSHConfig describes the host whose wg(8) is driven remotely.
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	KeyPath        string
	KnownHostsPath string
	Timeout        time.Duration
}

// SSHRunner runs commands on a remote host over one lazily dialed SSH
// connection. Stdin is streamed into the remote process, so the PSK never
// appears on a command line.
type SSHRunner struct {
	config *ssh.ClientConfig
	addr   string
	conn   *ssh.Client
	mu     sync.Mutex
	logger *logger.Logger
}

// NewSSHRunner parses the private key and prepares the client config.
func NewSSHRunner(cfg SSHConfig, log *logger.Logger) (*SSHRunner, error) {
	if cfg.Host == "" || cfg.User == "" || cfg.KeyPath == "" {
		return nil, errors.New("ssh runner requires host, user and key path")
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithComponent("broker.cli.ssh").With(slog.String("host", cfg.Host))

	pem, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key: %w", err)
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsPath != "" {
		hostKeys, err = knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	} else {
		log.Warn("ssh host key verification disabled")
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &SSHRunner{
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeys,
			Timeout:         timeout,
		},
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		logger: log,
	}, nil
}

func (r *SSHRunner) Run(ctx context.Context, name string, args []string, stdin []byte) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.session()
	if err != nil {
		return Result{}, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdin = bytes.NewReader(stdin)
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Signal(ssh.SIGKILL)
			_ = session.Close()
		case <-done:
		}
	}()

	err = session.Run(shellJoin(name, args))
	close(done)

	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	}
	if err != nil {
		r.drop()
		return res, fmt.Errorf("ssh command failed: %w", err)
	}
	return res, nil
}

// session must be called with r.mu held.
func (r *SSHRunner) session() (*ssh.Session, error) {
	if r.conn == nil {
		conn, err := ssh.Dial("tcp", r.addr, r.config)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", r.addr, err)
		}
		r.conn = conn
	}

	s, err := r.conn.NewSession()
	if err == nil {
		return s, nil
	}

	r.logger.Debug("ssh session failed, reconnecting", slog.String("error", err.Error()))
	r.drop()
	conn, err := ssh.Dial("tcp", r.addr, r.config)
	if err != nil {
		return nil, fmt.Errorf("failed to reconnect to %s: %w", r.addr, err)
	}
	r.conn = conn
	return r.conn.NewSession()
}

func (r *SSHRunner) drop() {
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}

// Close closes the SSH connection.
func (r *SSHRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

// shellJoin quotes every word for a POSIX shell.
func shellJoin(name string, args []string) string {
	words := make([]string, 0, len(args)+1)
	for _, w := range append([]string{name}, args...) {
		words = append(words, "'"+strings.ReplaceAll(w, "'", `'\''`)+"'")
	}
	return strings.Join(words, " ")
}
