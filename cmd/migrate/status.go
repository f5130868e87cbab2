package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mirajehossain/txmigrate/internal/checksum"
	"github.com/mirajehossain/txmigrate/internal/migrator"
)

func newStatusCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, o)
			if err != nil {
				return err
			}
			defer s.Close()

			rep, err := migrator.Status(cmd.Context(), s.db, s.storage(), s.migrations)
			if err != nil {
				return err
			}
			if err := printStatus(cmd.OutOrStdout(), rep, s.log.JSONEnabled()); err != nil {
				return err
			}
			if rep.Ordering != nil {
				return rep.Ordering
			}
			return nil
		},
	}
}

func printStatus(w io.Writer, rep *migrator.Report, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(rep)
	}
	for _, e := range rep.Entries {
		finished := ""
		if e.FinishedAt != nil {
			finished = e.FinishedAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		fmt.Fprintf(w, "%-40s %-8s %s %s\n", e.Name, e.State, checksum.Short(e.Checksum), finished)
	}
	for _, name := range rep.Unknown {
		fmt.Fprintf(w, "%-40s %-8s\n", name, "unknown")
	}
	fmt.Fprintf(w, "applied=%d pending=%d\n", rep.Applied, rep.Pending)
	return nil
}
