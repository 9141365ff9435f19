package archadapt

import (
	"github.com/lionxlover/lblcore/internal/bootexec/kernelfmt"
	"github.com/lionxlover/lblcore/internal/hallog"
	"github.com/lionxlover/lblcore/internal/halinfo"
	"github.com/lionxlover/lblcore/internal/memory"
)

// riscvAdapter covers both rv32 and rv64; the original's single
// jump_to_kernel_riscv took an is_rv64 flag rather than having two
// separate modules, and this adapter preserves that.
type riscvAdapter struct {
	is64 bool
}

func (a riscvAdapter) Arch() Arch {
	if a.is64 {
		return ArchRISCV64
	}
	return ArchRISCV32
}

// PrepareAndJump follows SBI/U-Boot convention: a0 carries the hart id, a1
// the DTB physical address, PC jumps to the kernel entry (jr). Hart id is
// always 0 here — the engine runs on a single boot hart.
func (a riscvAdapter) PrepareAndJump(hal *halinfo.Services, region *memory.Region, kernel kernelfmt.KernelInfo, initrd *kernelfmt.LoadedImageInfo, cmdline string) (HandoffResult, error) {
	log := hallog.Logger()
	log.Infof("archadapt(%s): preparing kernel jump to %#x", a.Arch(), kernel.EntryPoint)

	dtbPtr := hal.FirmwareSystemTable()
	const hartID = 0

	return HandoffResult{
		Arch:        a.Arch(),
		EntryPoint:  kernel.EntryPoint,
		ParamsAddr:  dtbPtr,
		ParamsSize:  0,
		Implemented: true,
		Registers: map[string]uint64{
			"a0": hartID,
			"a1": dtbPtr,
		},
	}, nil
}
