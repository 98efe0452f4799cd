package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chiquitav2/psk-broker/internal/config"
	"github.com/chiquitav2/psk-broker/pkg/logger"
)

const version = "0.3.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "psk-broker",
	Short: "Install post-quantum pre-shared keys into WireGuard",
	Long: `psk-broker installs pre-shared keys produced by an unprivileged key exchange
daemon into a live WireGuard interface.

The privileged side runs "psk-broker serve" and owns the netlink or wg(8)
backend. Unprivileged callers reach it over a unix socket with the ipc
backend, or install a key directly with "psk-broker set-psk".`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and reports the error on stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: search /etc/psk-broker, $HOME, .)")
	pf.String("backend", "", "backend: auto, netlink, cli or ipc")
	pf.String("socket", "", "broker unix socket")
	pf.String("wg-command", "", "path to wg(8)")
	pf.String("log-level", "", "log level: trace, debug, info, warn, error")
	pf.String("log-format", "", "log format: text or json")
}

// loadConfig merges file, environment and the command's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	l := config.NewLoader()
	if err := l.BindFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	if cfgFile != "" {
		return l.LoadWithPath(cfgFile)
	}
	return l.Load()
}

func newLogger(cfg *config.Config, component string) *logger.Logger {
	return logger.New(logger.LoggerConfig{
		Level:     logger.LogLevel(cfg.LogLevel),
		Format:    logger.OutputFormat(cfg.LogFormat),
		Component: component,
		Version:   version,
	})
}
