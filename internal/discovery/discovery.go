// Package discovery reports which backends can run on this host and opens
// the configured one. It never substitutes a backend the caller did not ask
// for: an explicit choice that cannot be served fails with ErrUnavailable.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"

	"github.com/chiquitav2/psk-broker/internal/broker"
	"github.com/chiquitav2/psk-broker/internal/broker/cli"
	"github.com/chiquitav2/psk-broker/internal/broker/netlink"
	"github.com/chiquitav2/psk-broker/internal/config"
	"github.com/chiquitav2/psk-broker/internal/ipc"
	"github.com/chiquitav2/psk-broker/pkg/logger"
)

// ErrUnavailable is returned when the requested backend cannot be used.
var ErrUnavailable = errors.New("backend unavailable")

// Status describes one backend on this host.
type Status struct {
	Name      string
	Available bool
	Reason    string
}

// Probe holds the host checks. Tests replace them.
type Probe struct {
	Netlink  func() error
	LookPath func(file string) (string, error)
	Stat     func(name string) (fs.FileInfo, error)
}

// HostProbe checks the real host.
var HostProbe = Probe{
	Netlink:  netlink.Available,
	LookPath: exec.LookPath,
	Stat:     os.Stat,
}

// Discovery resolves backends for one configuration.
type Discovery struct {
	cfg    *config.Config
	probe  Probe
	logger *logger.Logger
}

// New creates a Discovery using HostProbe.
func New(cfg *config.Config, l *logger.Logger) *Discovery {
	return NewWithProbe(cfg, HostProbe, l)
}

// NewWithProbe creates a Discovery with custom host checks.
func NewWithProbe(cfg *config.Config, probe Probe, l *logger.Logger) *Discovery {
	if l == nil {
		l = logger.NewNop()
	}
	return &Discovery{cfg: cfg, probe: probe, logger: l.WithComponent("discovery")}
}

// Available checks every backend, in auto preference order.
func (d *Discovery) Available() []Status {
	names := []string{config.BackendNetlink, config.BackendCLI, config.BackendIPC}
	out := make([]Status, 0, len(names))
	for _, name := range names {
		err := d.check(name)
		s := Status{Name: name, Available: err == nil}
		if err != nil {
			s.Reason = err.Error()
		}
		out = append(out, s)
	}
	return out
}

func (d *Discovery) check(name string) error {
	switch name {
	case config.BackendNetlink:
		return d.probe.Netlink()
	case config.BackendCLI:
		if d.cfg.SSH.Enabled() {
			return nil
		}
		_, err := d.probe.LookPath(d.cfg.WGCommand)
		return err
	case config.BackendIPC:
		if d.cfg.Socket == "" {
			return errors.New("no socket configured")
		}
		fi, err := d.probe.Stat(d.cfg.Socket)
		if err != nil {
			return err
		}
		if fi.Mode().Type() != fs.ModeSocket {
			return fmt.Errorf("%s is not a socket", d.cfg.Socket)
		}
		return nil
	}
	return fmt.Errorf("unknown backend %q", name)
}

// Resolve maps the configured backend to a concrete one. auto prefers
// netlink over cli.
func (d *Discovery) Resolve() (string, error) {
	name := d.cfg.Backend
	if name != config.BackendAuto {
		if err := d.check(name); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, name, err)
		}
		return name, nil
	}

	var reasons []error
	for _, candidate := range []string{config.BackendNetlink, config.BackendCLI} {
		err := d.check(candidate)
		if err == nil {
			d.logger.Debug("auto-selected backend", slog.String("backend", candidate))
			return candidate, nil
		}
		reasons = append(reasons, fmt.Errorf("%s: %w", candidate, err))
	}
	return "", fmt.Errorf("%w: no backend usable: %w", ErrUnavailable, errors.Join(reasons...))
}

// Open opens the configured backend.
func (d *Discovery) Open(ctx context.Context) (broker.Broker, error) {
	name, err := d.Resolve()
	if err != nil {
		return nil, err
	}

	switch name {
	case config.BackendNetlink:
		b, err := netlink.New(netlink.WithLogger(d.logger))
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendCLI:
		var runner cli.Runner
		if d.cfg.SSH.Enabled() {
			r, err := cli.NewSSHRunner(cli.SSHConfig{
				Host:           d.cfg.SSH.Host,
				Port:           d.cfg.SSH.Port,
				User:           d.cfg.SSH.User,
				KeyPath:        d.cfg.SSH.KeyPath,
				KnownHostsPath: d.cfg.SSH.KnownHosts,
				Timeout:        d.cfg.RequestTimeout,
			}, d.logger)
			if err != nil {
				return nil, err
			}
			runner = r
		}
		return cli.New(runner, cli.WithCommand(d.cfg.WGCommand), cli.WithLogger(d.logger)), nil
	default:
		c, err := ipc.Dial(ctx, d.cfg.Socket,
			ipc.WithMaxFrameSize(d.cfg.MaxFrameSize),
			ipc.WithTimeout(d.cfg.RequestTimeout),
			ipc.WithClientLogger(d.logger))
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Opener adapts Open for broker.Pool. Every interface gets its own backend
// instance.
func (d *Discovery) Opener(ctx context.Context) broker.Opener {
	return func(broker.InterfaceName) (broker.Broker, error) {
		return d.Open(ctx)
	}
}
