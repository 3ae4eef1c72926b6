package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
	"github.com/xkilldash9x/harvester-cli/internal/observability"
	"github.com/xkilldash9x/harvester-cli/internal/scheduler"
)

// newScheduleCmd creates the `schedule` command, which harvests every enabled
// portal on its configured interval until interrupted.
func newScheduleCmd(a *app) *cobra.Command {
	var runNow bool
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Harvests every enabled portal periodically",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			names := enabledPortals(a.cfg)
			if len(names) == 0 {
				return fmt.Errorf("no portal enabled")
			}

			comps, err := initializeComponents(ctx, a.cfg, logger, true)
			if err != nil {
				comps.Shutdown()
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer comps.Shutdown()

			jobs := make([]scheduler.Job, 0, len(names))
			for _, name := range names {
				orch, identity, err := comps.orchestrator(name)
				if err != nil {
					return err
				}
				lookback := a.cfg.Portals[name].Lookback
				jobs = append(jobs, scheduler.Job{
					Runner:   orch,
					Interval: a.cfg.Portals[name].Interval,
					Filter: func(now time.Time) schemas.ListingFilter {
						return identity.Window(now, lookback)
					},
				})
			}

			var opts []scheduler.Option
			if runNow {
				opts = append(opts, scheduler.WithRunOnStart())
			}
			s, err := scheduler.New(logger, jobs, opts...)
			if err != nil {
				return err
			}

			logger.Info("Scheduler running. Press Ctrl+C to stop.", zap.Strings("portals", names))
			if err := s.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	scheduleCmd.Flags().BoolVar(&runNow, "run-now", false, "Harvest every portal immediately instead of waiting for the first interval")
	return scheduleCmd
}
