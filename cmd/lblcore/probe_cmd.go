package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lionxlover/lblcore/internal/halinfo"
	"github.com/lionxlover/lblcore/internal/probe"
)

var probeBudgetMs int

func createProbeDevicesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe-devices",
		Short: "Dry-run asynchronous device probing against a synthetic handoff",
		Long: `probe-devices drives the cooperative probe orchestrator against a small
set of representative block/network/input devices, using a synthetic
handoff record since a development workstation has no real first-stage
loader to hand one off. Useful for exercising the probe loop's timing and
failure-handling without real hardware.`,
		RunE: executeProbeDevices,
	}
	cmd.Flags().IntVar(&probeBudgetMs, "budget-ms", 500, "time budget for the probe run, in milliseconds")
	return cmd
}

func executeProbeDevices(cmd *cobra.Command, args []string) error {
	svc := syntheticHandoff()
	orch := probe.New(svc, 2*time.Millisecond)

	type seed struct {
		kind  halinfo.DeviceKind
		name  string
		steps int
	}
	seeds := []seed{
		{halinfo.KindBlock, "virtio-blk0", 3},
		{halinfo.KindNetwork, "virtio-net0", 5},
		{halinfo.KindInput, "ps2-kbd0", 1},
		{halinfo.KindDisplay, "bochs-vga0", 2},
	}

	for _, s := range seeds {
		id := svc.Devices().Register(s.kind, s.name)
		orch.Register(id, probe.NewStepTask(s.name, s.steps))
	}

	out := cmd.OutOrStdout()
	remaining := probe.RunWithProgress(context.Background(), orch, time.Duration(probeBudgetMs)*time.Millisecond, out)
	if remaining > 0 {
		fmt.Fprintf(out, "probe budget exhausted with %d device(s) still pending\n", remaining)
	}

	fmt.Fprintf(out, "results:\n")
	for name, status := range orch.Results() {
		fmt.Fprintf(out, "  %-16s %s\n", name, status)
	}
	fmt.Fprintf(out, "ready devices: %d/%d\n", svc.Devices().ReadyCount(), len(seeds))

	return nil
}
