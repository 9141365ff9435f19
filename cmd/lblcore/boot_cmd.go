package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lionxlover/lblcore/internal/bootexec"
	"github.com/lionxlover/lblcore/internal/bootexec/archadapt"
	"github.com/lionxlover/lblcore/internal/fs"
	"github.com/lionxlover/lblcore/internal/hallog"
	"github.com/lionxlover/lblcore/internal/memory"
	"github.com/lionxlover/lblcore/internal/menuharness"
	"github.com/lionxlover/lblcore/internal/secmgr"
)

var (
	bootImage       string
	bootEntryID     string
	bootArch        string
	bootInteractive bool
	bootFormat      string
)

func createBootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boot [flags] CONFIG_FILE",
		Short: "Dry-run the boot dispatch path against a disk image",
		Long: `boot loads a config document, mounts every partition of --image it can,
and drives the same Executor.Boot dispatch the real engine uses —
signature verification, TPM measurement, kernel loading and the
architecture handoff adapter — reporting what it did without ever really
jumping to a kernel, since this runs on a development workstation.`,
		Args: cobra.ExactArgs(1),
		RunE: executeBoot,
	}

	cmd.Flags().StringVar(&bootImage, "image", "", "raw disk image to mount volumes from (required)")
	cmd.Flags().StringVar(&bootEntryID, "entry", "", "entry id to boot (default: config's default entry)")
	cmd.Flags().StringVar(&bootArch, "arch", string(archadapt.ArchX86_64), "target architecture for the handoff adapter")
	cmd.Flags().BoolVar(&bootInteractive, "interactive", false, "show the boot menu and let the user choose an entry")
	cmd.Flags().StringVar(&bootFormat, "format", "text", "output format: text or json")
	_ = cmd.MarkFlagRequired("image")

	return cmd
}

func executeBoot(cmd *cobra.Command, args []string) error {
	log := hallog.Logger()
	configFile := args[0]

	cfg, err := loadConfigDocument(configFile)
	if err != nil {
		return err
	}

	mgr := fs.NewManager()
	f, mounted, err := mountAllPartitions(mgr, bootImage)
	if err != nil {
		return fmt.Errorf("mount image: %w", err)
	}
	defer f.Close()
	log.Infof("lblcore: mounted %d partition(s) from %s", mounted, bootImage)

	entryID := bootEntryID
	if bootInteractive {
		menu := menuharness.NewMenu(cfg)
		chosen, err := menu.Run(context.Background())
		if err != nil {
			return fmt.Errorf("boot menu: %w", err)
		}
		entryID = chosen.ID
	}

	keys, err := secmgr.LoadKeyStore(mgr)
	if err != nil {
		log.Warnf("lblcore: no trusted key store available: %v", err)
		keys = nil
	}

	hal := syntheticHandoff()
	region := memory.NewRegion(0x200000, 64*1024*1024)
	ex := bootexec.NewExecutor(hal, mgr, keys, region)
	ex.RegisterInternalTool("debug-shell", func(ctx context.Context, ex *bootexec.Executor) error {
		log.Infof("lblcore: internal_tool debug-shell invoked (no-op in host dry run)")
		return nil
	})

	report, err := ex.Boot(context.Background(), cfg, entryID, archadapt.Arch(bootArch))
	if err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}

	return printBootReport(cmd, report, bootFormat)
}

func printBootReport(cmd *cobra.Command, report bootexec.Report, format string) error {
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		b, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		_, _ = fmt.Fprintln(out, string(b))
		return nil
	case "text":
		fmt.Fprintf(out, "entry:      %s (%s)\n", report.EntryID, report.EntryType)
		fmt.Fprintf(out, "volume:     %s\n", report.VolumeID)
		fmt.Fprintf(out, "measured:   %v\n", report.Measured)
		fmt.Fprintf(out, "signature:  %v\n", report.SignatureOK)
		fmt.Fprintf(out, "handoff:    arch=%s implemented=%v\n", report.Handoff.Arch, report.Handoff.Implemented)
		if !report.Handoff.Implemented {
			fmt.Fprintf(out, "  note: %s\n", report.Handoff.UnimplNote)
		}
		if report.PEEvidence != nil {
			fmt.Fprintf(out, "pe:         kind=%s uki=%v signed=%v\n", report.PEEvidence.Kind, report.PEEvidence.IsUKI, report.PEEvidence.Signed)
		}
		if report.InternalTool != "" {
			fmt.Fprintf(out, "tool:       %s\n", report.InternalTool)
		}
		return nil
	default:
		return fmt.Errorf("unsupported --format %q (supported: text, json)", format)
	}
}
