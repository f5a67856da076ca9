package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateFlagVals serveFlags

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration without starting services",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := loadConfig(validateFlagVals.configFile, validateFlagVals.configDir)
		if err != nil {
			return err
		}
		registry := newRegistry()
		for _, svc := range file.Services {
			if _, err := registry.Get(svc.Protocol); err != nil {
				return fmt.Errorf("service on port %d: %w", svc.Port, err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %d service(s)\n", len(file.Services))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateFlagVals.configFile, "config", "c", "", "Path to service configuration file")
	validateCmd.Flags().StringVarP(&validateFlagVals.configDir, "config-dir", "d", "", "Directory of configuration files")
}
