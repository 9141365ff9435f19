package archadapt

import (
	"github.com/lionxlover/lblcore/internal/bootexec/kernelfmt"
	"github.com/lionxlover/lblcore/internal/hallog"
	"github.com/lionxlover/lblcore/internal/halinfo"
	"github.com/lionxlover/lblcore/internal/memory"
)

type aarch64Adapter struct{}

func (aarch64Adapter) Arch() Arch { return ArchAARCH64 }

// PrepareAndJump mirrors the original's AArch64 handoff convention: the
// DTB physical address goes in x0, x1-x3 are zeroed, and the PC branches
// to the kernel entry point. The DTB pointer is always the HAL's
// FirmwareSystemTable pointer; the handoff record's separate ACPI RSDP
// pointer is not used here.
func (aarch64Adapter) PrepareAndJump(hal *halinfo.Services, region *memory.Region, kernel kernelfmt.KernelInfo, initrd *kernelfmt.LoadedImageInfo, cmdline string) (HandoffResult, error) {
	log := hallog.Logger()
	log.Infof("archadapt(aarch64): preparing kernel jump to %#x", kernel.EntryPoint)

	dtbPtr := hal.FirmwareSystemTable()

	return HandoffResult{
		Arch:        ArchAARCH64,
		EntryPoint:  kernel.EntryPoint,
		ParamsAddr:  dtbPtr,
		ParamsSize:  0,
		Implemented: true,
		Registers: map[string]uint64{
			"x0": dtbPtr,
			"x1": 0,
			"x2": 0,
			"x3": 0,
		},
	}, nil
}
