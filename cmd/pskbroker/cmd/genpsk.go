package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chiquitav2/psk-broker/pkg/secret"
)

var genPSKCmd = &cobra.Command{
	Use:   "gen-psk",
	Short: "Print a random base64 pre-shared key",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := secret.GenerateKey()
		if err != nil {
			return err
		}
		defer k.Wipe()
		fmt.Fprintln(cmd.OutOrStdout(), k.Base64())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(genPSKCmd)
}
