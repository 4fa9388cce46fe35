package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"goflare.io/pulse"
)

func newMetricsCmd(flags *globalFlags) *cobra.Command {
	var (
		role   string
		period string
	)

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print one dashboard snapshot as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := flags.loadFile()
			if err != nil {
				return err
			}
			logger, err := f.NewLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			p, err := flags.open(cmd.Context(), f, logger, nil)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			m, err := p.GetMetrics(cmd.Context(), pulse.Role(role), period)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		},
	}

	cmd.Flags().StringVarP(&role, "role", "r", string(pulse.RoleAdmin), "admin, entrepreneur or client")
	cmd.Flags().StringVarP(&period, "period", "p", "today", "period forwarded to the API")
	return cmd
}

func newCacheCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the shared dashboard cache",
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached dashboard snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := flags.loadFile()
			if err != nil {
				return err
			}
			logger, err := f.NewLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			p, err := flags.open(cmd.Context(), f, logger, nil)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			if err := p.ClearCache(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Dashboard cache cleared.")
			return nil
		},
	}

	cmd.AddCommand(clearCmd)
	return cmd
}
