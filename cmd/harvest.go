package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
	"github.com/xkilldash9x/harvester-cli/internal/config"
	"github.com/xkilldash9x/harvester-cli/internal/observability"
	"github.com/xkilldash9x/harvester-cli/internal/portal"
)

type harvestFlags struct {
	portal string
	from   string
	to     string
	status string
	offset int
}

// newHarvestCmd creates and configures the `harvest` command.
func newHarvestCmd(a *app) *cobra.Command {
	f := &harvestFlags{}
	harvestCmd := &cobra.Command{
		Use:   "harvest",
		Short: "Runs one harvest against a portal and writes the result snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			name, err := resolvePortal(a.cfg, f.portal)
			if err != nil {
				return err
			}

			comps, err := initializeComponents(ctx, a.cfg, logger, true)
			if err != nil {
				comps.Shutdown()
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer comps.Shutdown()

			orch, identity, err := comps.orchestrator(name)
			if err != nil {
				return err
			}
			filter, err := buildFilter(identity, a.cfg.Portals[name], f, time.Now())
			if err != nil {
				return err
			}

			result, err := orch.Run(ctx, filter)
			if result != nil {
				printSummary(cmd.OutOrStdout(), result)
			}
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Harvest aborted by user signal", zap.String("portal", name))
				}
				return err
			}
			return nil
		},
	}

	harvestCmd.Flags().StringVarP(&f.portal, "portal", "p", "", "Portal to harvest (defaults to the only enabled portal)")
	harvestCmd.Flags().StringVar(&f.from, "from", "", "First listing date, yyyy-mm-dd (defaults to now minus the portal lookback)")
	harvestCmd.Flags().StringVar(&f.to, "to", "", "Last listing date, yyyy-mm-dd (defaults to today)")
	harvestCmd.Flags().StringVar(&f.status, "status", "", "Document status filter (overrides config)")
	harvestCmd.Flags().IntVar(&f.offset, "offset", 0, "Listing offset")

	return harvestCmd
}

// resolvePortal returns the requested portal, or the only enabled one.
func resolvePortal(cfg *config.Config, requested string) (string, error) {
	if requested != "" {
		if _, ok := cfg.Portals[requested]; !ok {
			return "", fmt.Errorf("portal %q is not configured", requested)
		}
		return requested, nil
	}
	enabled := enabledPortals(cfg)
	switch len(enabled) {
	case 1:
		return enabled[0], nil
	case 0:
		return "", fmt.Errorf("no portal enabled; pass --portal or enable one in config")
	default:
		return "", fmt.Errorf("several portals enabled (%s); pass --portal", strings.Join(enabled, ", "))
	}
}

// buildFilter merges the command line onto the portal's default window.
func buildFilter(identity portal.Identity, pc config.PortalConfig, f *harvestFlags, now time.Time) (schemas.ListingFilter, error) {
	filter := identity.Window(now, pc.Lookback)
	for _, d := range []struct {
		value string
		dst   *string
	}{{f.from, &filter.DateFrom}, {f.to, &filter.DateTo}} {
		if d.value == "" {
			continue
		}
		if _, err := time.Parse(portal.DateLayout, d.value); err != nil {
			return filter, fmt.Errorf("invalid date %q, expected yyyy-mm-dd", d.value)
		}
		*d.dst = d.value
	}
	if f.status != "" {
		filter.Status = f.status
	}
	if f.offset < 0 {
		return filter, fmt.Errorf("offset must not be negative")
	}
	filter.Offset = f.offset
	return filter, nil
}

func printSummary(w io.Writer, r *schemas.HarvestResult) {
	status := "completed"
	if !r.Success {
		status = "aborted"
	}
	fmt.Fprintf(w, "\nHarvest %s. Run ID: %s\n", status, r.RunID)
	fmt.Fprintf(w, "Portal: %s  Window: %s to %s  Elapsed: %s\n", r.Portal, r.Filter.DateFrom, r.Filter.DateTo, r.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "Orders: %d  Failed rows: %d\n", len(r.Orders), len(r.Failures))
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  row %d (%s): %s\n", f.RowIndex, f.ExternalID, f.Kind)
	}
}

func envName(portal string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(portal))
}
