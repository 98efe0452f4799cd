package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configName = "psk-broker"
	envPrefix  = "PSK_BROKER"
)

// DefaultSocket is where serve listens and clients dial by default.
const DefaultSocket = "/run/psk-broker/broker.sock"

// ErrConfigExists is returned by CreateDefaultConfig when the file is present.
var ErrConfigExists = errors.New("config file already exists")

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	l := &Loader{v: viper.New()}
	l.setDefaults()
	l.setupEnvVars()
	return l
}

// BindFlags lets changed command-line flags override file and environment.
// A flag maps to the key spelled with underscores, or with its first dash as
// the section separator ("audit-path" is audit.path).
func (l *Loader) BindFlags(flags *pflag.FlagSet) error {
	known := make(map[string]bool)
	for _, k := range l.v.AllKeys() {
		known[k] = true
	}

	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if !known[key] {
			key = strings.Replace(key, "_", ".", 1)
		}
		if known[key] {
			errs = append(errs, l.v.BindPFlag(key, f))
		}
	})
	return errors.Join(errs...)
}

// Load searches the default paths for a config file. A missing file is not
// an error.
func (l *Loader) Load() (*Config, error) {
	l.setupConfigPaths()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.unmarshal()
}

// LoadWithPath loads configuration from a specific file path.
func (l *Loader) LoadWithPath(path string) (*Config, error) {
	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return l.unmarshal()
}

// ConfigFileUsed returns the file the last load read, if any.
func (l *Loader) ConfigFileUsed() string { return l.v.ConfigFileUsed() }

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg.Audit.Path = expandPath(cfg.Audit.Path)
	cfg.SSH.KeyPath = expandPath(cfg.SSH.KeyPath)
	cfg.SSH.KnownHosts = expandPath(cfg.SSH.KnownHosts)
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("backend", BackendAuto)
	l.v.SetDefault("socket", DefaultSocket)
	l.v.SetDefault("wg_command", "wg")
	l.v.SetDefault("max_frame_size", 64<<10)
	l.v.SetDefault("request_timeout", 10*time.Second)
	l.v.SetDefault("log_level", "info")
	l.v.SetDefault("log_format", "text")
	l.v.SetDefault("audit.enabled", false)
	l.v.SetDefault("audit.path", "/var/lib/psk-broker/audit.db")
	l.v.SetDefault("ssh.host", "")
	l.v.SetDefault("ssh.port", 22)
	l.v.SetDefault("ssh.user", "root")
	l.v.SetDefault("ssh.key_path", "~/.ssh/id_ed25519")
	l.v.SetDefault("ssh.known_hosts", "")
}

func (l *Loader) setupConfigPaths() {
	l.v.SetConfigName(configName)
	l.v.SetConfigType("yaml")

	l.v.AddConfigPath("/etc/psk-broker")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(home)
	}
	l.v.AddConfigPath(".")
}

func (l *Loader) setupEnvVars() {
	l.v.SetEnvPrefix(envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
}

// Validate checks a loaded configuration.
func Validate(cfg *Config) error {
	switch cfg.Backend {
	case BackendAuto, BackendNetlink, BackendCLI, BackendIPC:
	default:
		return fmt.Errorf("invalid backend: %s (must be auto, netlink, cli or ipc)", cfg.Backend)
	}

	if cfg.Backend == BackendIPC && cfg.Socket == "" {
		return fmt.Errorf("socket is required for the ipc backend")
	}
	if cfg.WGCommand == "" {
		return fmt.Errorf("wg_command is required")
	}
	if cfg.MaxFrameSize < 128 || cfg.MaxFrameSize > 16<<20 {
		return fmt.Errorf("max_frame_size must be between 128 bytes and 16 MiB, got %d", cfg.MaxFrameSize)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}

	validLogLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be trace, debug, info, warn, or error)", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("invalid log_format: %s (must be text or json)", cfg.LogFormat)
	}

	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		return fmt.Errorf("audit.path is required when audit is enabled")
	}
	if cfg.SSH.Enabled() {
		if cfg.SSH.User == "" || cfg.SSH.KeyPath == "" {
			return fmt.Errorf("ssh.user and ssh.key_path are required when ssh.host is set")
		}
		if cfg.SSH.Port < 1 || cfg.SSH.Port > 65535 {
			return fmt.Errorf("invalid ssh.port: %d", cfg.SSH.Port)
		}
	}
	return nil
}

const defaultConfig = `# psk-broker configuration

# auto, netlink, cli or ipc
backend: auto

# unix socket served by "psk-broker serve" and dialed by the ipc backend
socket: /run/psk-broker/broker.sock

wg_command: wg
max_frame_size: 65536
request_timeout: 10s

log_level: info
log_format: text

audit:
  enabled: false
  path: /var/lib/psk-broker/audit.db

# drive wg(8) on a remote host with the cli backend
ssh:
  host: ""
  port: 22
  user: root
  key_path: ~/.ssh/id_ed25519
  known_hosts: ""
`

// DefaultConfigPath is where CreateDefaultConfig writes when no path is given.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, configName+".yaml"), nil
}

// CreateDefaultConfig writes the default configuration to path. It fails with
// ErrConfigExists instead of overwriting unless force is set.
func CreateDefaultConfig(path string, force bool) (string, error) {
	if path == "" {
		var err error
		if path, err = DefaultConfigPath(); err != nil {
			return "", err
		}
	}
	if _, err := os.Stat(path); err == nil && !force {
		return path, ErrConfigExists
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return path, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		return path, fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}

func expandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) == 1 {
		return home
	}
	return filepath.Join(home, path[1:])
}
