package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chiquitav2/psk-broker/internal/config"
)

var genConfigCmd = &cobra.Command{
	Use:   "gen-config [path]",
	Short: "Write a default configuration file",
	Long: `Write a commented default configuration file. Without a path the file is
created as ~/psk-broker.yaml. An existing file is kept unless --force is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")

		path, err := config.CreateDefaultConfig(path, force)
		if errors.Is(err, config.ErrConfigExists) {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(genConfigCmd)
	genConfigCmd.Flags().BoolP("force", "f", false, "overwrite an existing file")
}
