package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"scriptor/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create, show and check the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration if none exists",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration, environment overrides included",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file for errors",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file in use",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), resolvedConfigPath())
	},
}

var showFormat string

func init() {
	configShowCmd.Flags().StringVarP(&showFormat, "format", "f", "toml", "output format: toml, json or yaml")
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd, configPathCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := resolvedConfigPath()
	_, created, err := config.LoadOrCreate(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Config already exists at %s\n", path)
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return writeConfig(cmd.OutOrStdout(), cfg, showFormat)
}

func writeConfig(w io.Writer, cfg *config.Config, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(cfg)
	case "toml":
		return toml.NewEncoder(w).Encode(cfg)
	default:
		return fmt.Errorf("unknown format %q (want toml, json or yaml)", format)
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := resolvedConfigPath()
	_, err := config.Load(path)
	if err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", path)
		return nil
	}

	var verrs config.ValidationErrors
	if errors.As(err, &verrs) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d problem(s)\n", path, len(verrs))
		for _, e := range verrs {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", e.Field, e.Message)
		}
		return config.ErrInvalidConfig
	}
	return err
}
