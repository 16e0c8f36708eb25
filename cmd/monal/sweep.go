package main

import (
	"fmt"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/auth"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/sweeper"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/telemetry"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired tokens once and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sw := sweeper.New(a.store, auth.SystemClock{}, a.cfg.Sweep.Interval, a.log, telemetry.Discard())

		n, err := sw.Sweep(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired tokens\n", n)

		return nil
	},
}
