package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chiquitav2/psk-broker/internal/config"
	"github.com/chiquitav2/psk-broker/internal/discovery"
	"github.com/chiquitav2/psk-broker/internal/ipc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the privileged broker",
	Long: `Serve PSK installation requests from unprivileged callers.

The broker listens on the configured unix socket, or serves a single
inherited socket descriptor when --fd is given (the mode used when the key
exchange daemon spawns the broker itself). Requests are handled by the
netlink or cli backend; the ipc backend cannot be served.

Examples:
  # Listen on the default socket
  psk-broker serve

  # Serve the socket passed as descriptor 3
  psk-broker serve --fd 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Backend == config.BackendIPC {
			return errors.New("serve needs a local backend, not ipc")
		}
		log := newLogger(cfg, "serve")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		backend, err := discovery.New(cfg, log).Open(ctx)
		if err != nil {
			return err
		}
		defer backend.Close()

		bus, release, err := outcomeBus(cfg, log)
		if err != nil {
			return err
		}
		defer release()

		srv := ipc.NewServer(backend,
			ipc.WithServerMaxFrameSize(cfg.MaxFrameSize),
			ipc.WithServerLogger(log),
			ipc.WithServerObserver(bus))

		if fd, _ := cmd.Flags().GetInt("fd"); fd >= 0 {
			conn, err := ipc.FromFD(fd)
			if err != nil {
				return err
			}
			log.Info("serving inherited descriptor", slog.Int("fd", fd), slog.String("backend", backend.Name()))
			return srv.ServeConn(ctx, conn)
		}

		if err := os.MkdirAll(filepath.Dir(cfg.Socket), 0o750); err != nil {
			return fmt.Errorf("failed to create socket directory: %w", err)
		}
		ln, err := ipc.Listen(cfg.Socket)
		if err != nil {
			return err
		}

		err = srv.Serve(ctx, ln)
		log.Info("broker stopped")
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("fd", -1, "serve an inherited socket descriptor instead of listening")
}
