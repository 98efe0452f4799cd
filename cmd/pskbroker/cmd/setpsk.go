package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chiquitav2/psk-broker/internal/broker"
	"github.com/chiquitav2/psk-broker/internal/discovery"
	"github.com/chiquitav2/psk-broker/pkg/secret"
)

var setPSKCmd = &cobra.Command{
	Use:   "set-psk",
	Short: "Install one pre-shared key for a peer",
	Long: `Install a base64 pre-shared key for an existing WireGuard peer.

The key is read from --psk-file, or from stdin when the file is "-". It is
never accepted on the command line.

Examples:
  # Through the running broker
  wg genpsk | psk-broker set-psk --backend ipc -i wg0 --peer <pubkey>

  # Directly, with extra wg(8) peer arguments
  psk-broker set-psk --backend cli -i wg0 --peer <pubkey> --psk-file psk.key \
    --param persistent-keepalive --param 25`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := newLogger(cfg, "set-psk")

		iface, _ := cmd.Flags().GetString("interface")
		peerFlag, _ := cmd.Flags().GetString("peer")
		pskFile, _ := cmd.Flags().GetString("psk-file")
		params, _ := cmd.Flags().GetStringArray("param")

		peer, err := secret.ParsePublic(peerFlag)
		if err != nil {
			return fmt.Errorf("invalid --peer: %w", err)
		}

		var psk *secret.Key
		if pskFile == "-" {
			psk, err = secret.ReadKey(cmd.InOrStdin())
		} else {
			psk, err = secret.ReadKeyFile(pskFile)
		}
		if err != nil {
			return err
		}
		defer psk.Wipe()

		bus, release, err := outcomeBus(cfg, log)
		if err != nil {
			return err
		}
		defer release()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer cancel()

		pool := broker.NewPool(discovery.New(cfg, log).Opener(ctx),
			broker.WithLogger(log),
			broker.WithObserver(bus))
		defer pool.Close()

		bp, err := pool.AddPeer(iface, peer, params)
		if err != nil {
			return err
		}
		defer bp.Close()

		if err := bp.SetPSK(ctx, psk); err != nil {
			var be *broker.Error
			if errors.As(err, &be) && be.Retryable() {
				return fmt.Errorf("%s (retry once the peer is configured): %w", be.Kind, err)
			}
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "psk installed for %s on %s\n", peer.Short(), iface)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setPSKCmd)

	setPSKCmd.Flags().StringP("interface", "i", "wg0", "WireGuard interface name")
	setPSKCmd.Flags().String("peer", "", "peer public key (base64)")
	setPSKCmd.Flags().String("psk-file", "-", `file holding the base64 PSK, "-" for stdin`)
	setPSKCmd.Flags().StringArray("param", nil, "extra wg set peer argument (repeatable)")
	_ = setPSKCmd.MarkFlagRequired("peer")
}
