package cmd

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/harvester-cli/internal/artifacts"
)

// newInspectCmd creates the `inspect` command, which reloads a run snapshot
// and prints it.
func newInspectCmd() *cobra.Command {
	var format string
	inspectCmd := &cobra.Command{
		Use:   "inspect <snapshot.json>",
		Short: "Prints a harvest snapshot as JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := artifacts.LoadSnapshot(args[0])
			if err != nil {
				return err
			}
			return writeFormatted(cmd.OutOrStdout(), result, format)
		},
	}
	inspectCmd.Flags().StringVarP(&format, "format", "f", "json", "Output format ('json' or 'yaml')")
	return inspectCmd
}

func writeFormatted(w io.Writer, v interface{}, format string) error {
	switch format {
	case "json":
		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q (use json or yaml)", format)
	}
}
