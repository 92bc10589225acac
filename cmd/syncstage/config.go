package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ysasiwat/syncstage/pkg/syncstage/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage syncstage configuration settings.

Configuration is loaded from:
  1. the file given with --config
  2. $XDG_CONFIG_HOME/syncstage/config.yaml

Environment variables override file settings using the SYNCSTAGE_ prefix,
with dots replaced by underscores:
  SYNCSTAGE_DEDUPE_ALGORITHM=sha256
  SYNCSTAGE_CACHE_ENABLED=false`,
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  a.runConfigShow,
	}

	edit := skipBootstrap(&cobra.Command{
		Use:   "edit",
		Short: "Edit the configuration file",
		Long: `Open the configuration file in $VISUAL, else $EDITOR, else vi. A default
file is written first if none exists.`,
		Args: cobra.NoArgs,
		RunE: a.runConfigEdit,
	})

	initCmd := skipBootstrap(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE:  a.runConfigInit,
	})
	initCmd.Flags().Bool("force", false, "overwrite an existing file")

	path := skipBootstrap(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), a.configPath())
			return err
		},
	})

	cmd.AddCommand(show, edit, initCmd, path)
	return cmd
}

func (a *app) configPath() string {
	if a.cfgFile != "" {
		return a.cfgFile
	}
	return config.ConfigPath()
}

func (a *app) runConfigShow(_ *cobra.Command, _ []string) error {
	if used := a.v.ConfigFileUsed(); used != "" {
		if _, err := os.Stat(used); err == nil {
			fmt.Fprintf(a.stdout, "# Config file: %s\n", used)
		} else {
			fmt.Fprintln(a.stdout, "# Config file: (using defaults, no file found)")
		}
	}

	var overrides []string
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, config.EnvPrefix+"_") {
			overrides = append(overrides, env)
		}
	}
	sort.Strings(overrides)
	for _, o := range overrides {
		fmt.Fprintf(a.stdout, "# Environment: %s\n", o)
	}

	enc := yaml.NewEncoder(a.stdout)
	enc.SetIndent(2)
	if err := enc.Encode(a.cfg); err != nil {
		return err
	}
	return enc.Close()
}

func (a *app) runConfigEdit(cmd *cobra.Command, _ []string) error {
	path, err := config.WriteDefault(a.configPath(), false)
	if err != nil && !errors.Is(err, config.ErrConfigExists) {
		return err
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	c := exec.CommandContext(cmd.Context(), editor, path)
	c.Stdin = os.Stdin
	c.Stdout = cmd.OutOrStdout()
	c.Stderr = cmd.ErrOrStderr()
	if err := c.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}
	return nil
}

func (a *app) runConfigInit(cmd *cobra.Command, _ []string) error {
	force, _ := cmd.Flags().GetBool("force")
	path, err := config.WriteDefault(a.configPath(), force)
	if errors.Is(err, config.ErrConfigExists) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Config file already exists: %s\nUse --force to overwrite it or 'syncstage config edit' to change it.\n", path)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Created default config file: %s\n", path)
	return nil
}
