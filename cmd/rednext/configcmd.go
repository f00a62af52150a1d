package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stevemurr/rednext/config"
)

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the rednext configuration file",
		// Replaces the root hook: the file may not exist or parse yet.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	}
	cmd.AddCommand(a.configInitCmd())
	return cmd
}

func (a *app) configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the default settings",
		Long: `Write the default settings to the --config path. Values given with
--backend, --data-dir, --driver and --url are written instead of the defaults.`,
		Example: `  rednext config init
  rednext config init --backend http --url http://tasks.local:8080
  rednext config init --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.configPath == "" {
				return fmt.Errorf("no config path: pass --config")
			}
			if _, err := os.Stat(a.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", a.configPath)
			}

			cfg := config.Default()
			a.applyFlags(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(cfg, a.configPath); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", a.configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration")
	return cmd
}
