// Package config loads the broker configuration from file, environment and
// flags.
package config

import "time"

// Backend names accepted by the backend key.
const (
	BackendAuto    = "auto"
	BackendNetlink = "netlink"
	BackendCLI     = "cli"
	BackendIPC     = "ipc"
)

// Config holds the psk-broker configuration.
type Config struct {
	Backend        string        `mapstructure:"backend"`
	Socket         string        `mapstructure:"socket"`
	WGCommand      string        `mapstructure:"wg_command"`
	MaxFrameSize   int           `mapstructure:"max_frame_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
	Audit          AuditConfig   `mapstructure:"audit"`
	SSH            SSHConfig     `mapstructure:"ssh"`
}

// AuditConfig controls the outcome ledger.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SSHConfig makes the cli backend drive wg(8) on a remote host.
type SSHConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	KeyPath    string `mapstructure:"key_path"`
	KnownHosts string `mapstructure:"known_hosts"`
}

// Enabled reports whether a remote host is configured.
func (s SSHConfig) Enabled() bool { return s.Host != "" }
