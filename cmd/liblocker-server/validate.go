package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Neomon11/LibLocker/internal/config"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the LibLocker server configuration for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with changed values highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		return err
	}

	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		color.New(color.FgYellow).Fprintf(os.Stderr, "Warning: could not check for unknown keys: %v\n", err)
	}

	source := configPath
	if source == "" {
		source = "(defaults and environment)"
	}
	color.New(color.FgGreen).Fprintf(os.Stdout, "Configuration is valid: %s\n", source)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))
		return dumpConfig(cfg)
	}
	return nil
}

func dumpConfig(cfg *config.ServerConfig) error {
	settings, err := config.Flatten(cfg)
	if err != nil {
		return err
	}
	changed, err := config.Changed(cfg, config.Defaults())
	if err != nil {
		return err
	}

	highlight := color.New(color.FgYellow, color.Bold)
	for _, s := range settings {
		line := fmt.Sprintf("%-45s %s", s.Key, s.Value)
		if changed[s.Key] {
			highlight.Fprintln(os.Stdout, line+"  (changed)")
			continue
		}
		fmt.Fprintln(os.Stdout, line)
	}
	return nil
}

// findUnknownKeys reports keys in the config file that no setting uses
func findUnknownKeys(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	valid, err := validKeys()
	if err != nil {
		return nil, err
	}

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !valid[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown, nil
}

// validKeys derives the key set from the rendered defaults
func validKeys() (map[string]bool, error) {
	settings, err := config.Flatten(config.Defaults())
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool, len(settings)+1)
	for _, s := range settings {
		keys[s.Key] = true
	}
	// Secrets are never rendered
	keys["presence.redis.password"] = true
	return keys, nil
}
