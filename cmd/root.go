// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvester-cli/internal/config"
	"github.com/xkilldash9x/harvester-cli/internal/observability"
)

// app carries the state shared by every subcommand of one root command.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

// NewRootCommand builds a fresh command tree. Each tree owns its own viper
// instance so that flags never leak between invocations.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:     "harvester",
		Short:   "Harvests purchase orders from session-authenticated vendor portals.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// This runs before any command, setting up config and logging.
			if err := a.initializeConfig(); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "harvester"})
				return err
			}
			observability.InitializeLogger(a.cfg.Logger)
			observability.GetLogger().Debug("Starting harvester", zap.String("version", Version))
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newHarvestCmd(a),
		newScheduleCmd(a),
		newInspectCmd(),
		newSessionCmd(a),
		newRunsCmd(a),
	)
	return rootCmd
}

// Execute runs the command tree with ctx and logs a failure once.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
	}
	observability.Sync()
	return err
}

// initializeConfig reads in config file and ENV variables if set.
func (a *app) initializeConfig() error {
	v := a.v
	config.SetDefaults(v)

	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}
