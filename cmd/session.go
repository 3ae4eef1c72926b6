package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/harvester-cli/internal/observability"
	"github.com/xkilldash9x/harvester-cli/internal/portal"
)

// sessionView is the printable form of a stored session. Cookie values are
// never shown.
type sessionView struct {
	Key        string       `json:"key" yaml:"key"`
	Present    bool         `json:"present" yaml:"present"`
	CapturedAt time.Time    `json:"captured_at,omitempty" yaml:"captured_at,omitempty"`
	Cookies    []cookieView `json:"cookies,omitempty" yaml:"cookies,omitempty"`
}

type cookieView struct {
	Name    string `json:"name" yaml:"name"`
	Domain  string `json:"domain" yaml:"domain"`
	Expires string `json:"expires" yaml:"expires"`
}

func newSessionCmd(a *app) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspects stored portal sessions",
	}

	var portalName, format string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Shows the stored session of a portal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name, err := resolvePortal(a.cfg, portalName)
			if err != nil {
				return err
			}
			identity, err := portal.FromConfig(name, a.cfg.Portals[name])
			if err != nil {
				return err
			}

			comps, err := initializeComponents(ctx, a.cfg, observability.GetLogger(), false)
			if err != nil {
				comps.Shutdown()
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer comps.Shutdown()

			view := sessionView{Key: identity.SessionKey}
			if s, ok := comps.Sessions.Load(ctx, identity.SessionKey); ok {
				view.Present = true
				view.CapturedAt = s.CapturedAt
				for _, c := range s.Cookies {
					expires := "session"
					if c.Expires > 0 {
						expires = time.Unix(int64(c.Expires), 0).UTC().Format(time.RFC3339)
					}
					view.Cookies = append(view.Cookies, cookieView{Name: c.Name, Domain: c.Domain, Expires: expires})
				}
			}
			return writeFormatted(cmd.OutOrStdout(), view, format)
		},
	}
	showCmd.Flags().StringVarP(&portalName, "portal", "p", "", "Portal whose session to show")
	showCmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format ('json' or 'yaml')")

	sessionCmd.AddCommand(showCmd)
	return sessionCmd
}
