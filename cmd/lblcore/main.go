// Command lblcore is the host-side development harness for the boot
// engine: it inspects disk images and config documents, dry-runs device
// probing and the boot dispatch path, and renders a menuharness preview —
// all without requiring real firmware, since none of that is available on
// a developer's workstation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lionxlover/lblcore/internal/hallog"

	_ "github.com/lionxlover/lblcore/internal/fsplugin/rpminspect"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "lblcore",
		Short: "Development harness for the LBL boot engine",
		Long: `lblcore exercises the boot engine's components against disk images and
config documents on a development workstation, standing in for the real
firmware environment the engine runs under in production.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		createInspectCommand(),
		createValidateCommand(),
		createProbeDevicesCommand(),
		createBootCommand(),
	)

	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		hallog.Logger().Errorf("lblcore: %v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
