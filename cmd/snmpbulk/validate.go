package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/geekxflood/snmpbulk/config"
)

func newValidateCommand(root *rootOptions) *cobra.Command {
	var printSchema bool

	cmd := &cobra.Command{
		Use:   "validate [FILE]",
		Short: "Validate a configuration file",
		Long:  `Check a YAML or JSON configuration file against the configuration schema.`,
		Example: `  snmpbulk validate --config snmpbulk.yaml
  snmpbulk validate snmpbulk.json
  snmpbulk validate --schema`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if printSchema {
				_, err := fmt.Fprint(out, config.Schema())
				return err
			}

			path := root.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return errors.New("no configuration file, pass it as an argument or with --config")
			}

			if err := config.ValidateFile(path); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}
			_, err := fmt.Fprintf(out, "%s: configuration is valid\n", path)
			return err
		},
	}

	cmd.Flags().BoolVar(&printSchema, "schema", false, "Print the configuration schema instead")
	return cmd
}
