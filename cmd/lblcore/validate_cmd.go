package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lionxlover/lblcore/internal/hallog"
)

func createValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [flags] CONFIG_FILE",
		Short: "Validate a boot config document",
		Long: `Validate runs the same two-phase JSON Schema and semantic validation
the engine applies at boot time against a config document on disk, without
requiring a mounted volume.`,
		Args: cobra.ExactArgs(1),
		RunE: executeValidate,
	}
	return cmd
}

func executeValidate(cmd *cobra.Command, args []string) error {
	log := hallog.Logger()
	configFile := args[0]
	log.Infof("validating config file: %s", configFile)

	cfg, err := loadConfigDocument(configFile)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config is valid\n")
	fmt.Fprintf(out, "  timeout_ms: %d\n", cfg.TimeoutMs)
	fmt.Fprintf(out, "  entries:    %d\n", len(cfg.Entries))
	for _, e := range cfg.Entries {
		fmt.Fprintf(out, "    - %-12s %-20s type=%-16s secure=%v\n", e.ID, e.Title, e.Type, e.Secure)
	}
	if def := cfg.DefaultEntry(); def != nil {
		fmt.Fprintf(out, "  default:    %s\n", def.ID)
	}
	if len(cfg.Plugins) > 0 {
		fmt.Fprintf(out, "  plugins:    %v\n", cfg.Plugins)
	}

	return nil
}
