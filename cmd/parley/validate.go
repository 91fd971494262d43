package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/runtime"
)

func newValidateCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "validate [config.yaml]",
		Short: "Validate a configuration file",
		Long: `Validate parses the configuration, applies environment overrides, and
checks the fields that would otherwise fail at request time, including
compiling every routing rule condition.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configFile
			if len(args) > 0 {
				path = args[0]
			}

			_, err := runtime.LoadConfig(path)
			if err == nil {
				return nil
			}

			switch format {
			case "json":
				data, _ := json.MarshalIndent(map[string]string{
					"file":  path,
					"error": err.Error(),
				}, "", "  ")
				fmt.Fprintln(os.Stderr, string(data))
			default:
				fmt.Fprintln(os.Stderr, err.Error())
			}

			os.Exit(1)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format (text|json)")

	return cmd
}
