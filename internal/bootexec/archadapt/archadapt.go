// Package archadapt implements the per-architecture CPU handoff adapter.
// The original loader ends each adapter with an inline-asm jump into the
// loaded kernel; a hosted Go process has no equivalent way to transfer
// control to an arbitrary loaded image, so each Adapter instead builds the
// architecture's boot-parameters record and returns a HandoffResult
// describing exactly what a real jump would have done (entry point,
// parameter block address, register assignments) for the caller — a real
// trampoline would live in a //go:build realboot file using cgo/unsafe,
// out of scope here.
package archadapt

import (
	"fmt"

	"github.com/lionxlover/lblcore/internal/bootexec/kernelfmt"
	"github.com/lionxlover/lblcore/internal/hallog"
	"github.com/lionxlover/lblcore/internal/halinfo"
	"github.com/lionxlover/lblcore/internal/memory"
)

// Arch identifies a CPU architecture the engine can hand off to.
type Arch string

const (
	ArchX86     Arch = "x86"
	ArchX86_64  Arch = "x86_64"
	ArchARM     Arch = "arm"
	ArchAARCH64 Arch = "aarch64"
	ArchRISCV32 Arch = "riscv32"
	ArchRISCV64 Arch = "riscv64"
)

// HandoffResult is what a real CPU jump would have done, captured as data
// instead of performed.
type HandoffResult struct {
	Arch        Arch
	EntryPoint  uint64
	ParamsAddr  uint64
	ParamsSize  uint64
	Registers   map[string]uint64
	Implemented bool
	UnimplNote  string
}

// FirmwareServices models the UEFI boot-services surface the handoff needs:
// fetching the current memory map key and exiting boot services with it,
// retrying once if the firmware reports the key went stale (a real UEFI
// firmware invalidates the key whenever the memory map changes between
// GetMemoryMap and ExitBootServices).
type FirmwareServices interface {
	GetMemoryMapKey() (uint64, error)
	ExitBootServices(key uint64) error
}

// ErrStaleMemoryMapKey is returned by a FirmwareServices mock to simulate a
// firmware reporting EFI_INVALID_PARAMETER because the map changed.
type ErrStaleMemoryMapKey struct{}

func (ErrStaleMemoryMapKey) Error() string { return "archadapt: memory map key is stale" }

// ExitBootServicesWithRetry calls ExitBootServices, retrying exactly once
// with a freshly fetched key if the firmware reports the key is stale, per
// spec.md's testable property on ExitBootServices retry behavior.
func ExitBootServicesWithRetry(fw FirmwareServices) error {
	log := hallog.Logger()

	key, err := fw.GetMemoryMapKey()
	if err != nil {
		return fmt.Errorf("archadapt: get memory map key: %w", err)
	}

	err = fw.ExitBootServices(key)
	if err == nil {
		return nil
	}
	if _, stale := err.(ErrStaleMemoryMapKey); !stale {
		return err
	}

	log.Warnf("archadapt: memory map key went stale, retrying ExitBootServices once")
	key, err = fw.GetMemoryMapKey()
	if err != nil {
		return fmt.Errorf("archadapt: get memory map key (retry): %w", err)
	}
	return fw.ExitBootServices(key)
}

// Adapter prepares the architecture-specific boot parameters and reports
// what handing off control would look like.
type Adapter interface {
	Arch() Arch
	PrepareAndJump(hal *halinfo.Services, region *memory.Region, kernel kernelfmt.KernelInfo, initrd *kernelfmt.LoadedImageInfo, cmdline string) (HandoffResult, error)
}

// ForArch returns the Adapter for a given architecture, or nil if
// unsupported.
func ForArch(a Arch) Adapter {
	switch a {
	case ArchX86_64:
		return x86_64Adapter{}
	case ArchAARCH64:
		return aarch64Adapter{}
	case ArchRISCV64:
		return riscvAdapter{is64: true}
	case ArchRISCV32:
		return riscvAdapter{is64: false}
	case ArchX86:
		return unimplementedAdapter{arch: ArchX86}
	case ArchARM:
		return unimplementedAdapter{arch: ArchARM}
	default:
		return nil
	}
}
