package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chiquitav2/psk-broker/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate <path>...",
	Short: "Check configuration files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			if _, err := config.NewLoader().LoadWithPath(path); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d config files invalid", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
