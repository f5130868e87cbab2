package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mirajehossain/txmigrate/internal/freshness"
)

func newCheckCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the freshness guard; exits 6 when migrations are pending",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, o)
			if err != nil {
				return err
			}
			defer s.Close()

			guard := freshness.Build(s.cfg.LedgerTable, s.migrations)
			if err := guard.Check(cmd.Context(), s.db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "up to date")
			return nil
		},
	}
}
