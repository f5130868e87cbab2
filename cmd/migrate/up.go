package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/mirajehossain/txmigrate/internal/migrator"
)

func newUpCmd(o *globalOptions) *cobra.Command {
	var testDelay time.Duration
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, o)
			if err != nil {
				return err
			}
			defer s.Close()

			delay := s.cfg.TestDelay()
			if cmd.Flags().Changed("test-delay") {
				delay = testDelay
			}
			res, err := s.applier().Apply(cmd.Context(), s.migrations, migrator.Options{TestDelay: delay})
			if err != nil {
				return err
			}
			s.log.Info("up complete", "applied", res.NewlyApplied, "catalog", len(s.migrations))
			return nil
		},
	}
	cmd.Flags().DurationVar(&testDelay, "test-delay", 0, "Hold the apply transaction open this long (testing only, or TEST_DELAY_SEC)")
	return cmd
}
