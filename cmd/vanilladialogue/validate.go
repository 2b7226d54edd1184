package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/config"
)

func newValidateConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Check a configuration file without starting the service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok\n", configPath)
			fmt.Fprintf(out, "  listen:   %s\n", cfg.Server.ListenAddr)
			fmt.Fprintf(out, "  mantella: %s:%d/%s\n", cfg.Mantella.BaseURL, cfg.Mantella.Port, cfg.Mantella.Route)
			fmt.Fprintf(out, "  storage:  %s slot %q\n", cfg.Persistence.Backend, cfg.Persistence.Slot)
			fmt.Fprintf(out, "  tracking: %t\n", cfg.Dialogue.EnableVanillaDialogueTracking)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "vanilladialogue.yaml", "path to the YAML configuration file")
	return cmd
}
