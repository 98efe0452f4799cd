package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chiquitav2/psk-broker/internal/discovery"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the backends usable on this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		d := discovery.New(cfg, newLogger(cfg, "backends"))

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "BACKEND\tAVAILABLE\tREASON")
		for _, s := range d.Available() {
			fmt.Fprintf(w, "%s\t%t\t%s\n", s.Name, s.Available, s.Reason)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if name, err := d.Resolve(); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "\nselected: %s (configured: %s)\n", name, cfg.Backend)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "\nselected: none (%v)\n", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}
