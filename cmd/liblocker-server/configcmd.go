package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Neomon11/LibLocker/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the effective configuration as YAML",
	Long:  `Print the configuration after defaults, the config file and LIBLOCKER_* environment overrides are applied. Secrets are omitted.`,
	RunE:  runConfigPrint,
}

func init() {
	configCmd.AddCommand(configPrintCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigPrint(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	data, err := config.YAML(cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
