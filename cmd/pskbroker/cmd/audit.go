package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chiquitav2/psk-broker/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent PSK installation outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if !cfg.Audit.Enabled {
			return errors.New("audit ledger is disabled (set audit.enabled)")
		}

		store, err := audit.Open(cfg.Audit.Path, newLogger(cfg, "audit"))
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := store.Recent(context.Background(), limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tINTERFACE\tPEER\tBACKEND\tOUTCOME\tDURATION")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.RecordedAt.Local().Format(time.RFC3339), e.Interface, e.PeerID, e.Backend, e.Outcome, e.Duration)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().Int("limit", 20, "number of entries to show")
	auditCmd.Flags().String("audit-path", "", "audit database path")
}
