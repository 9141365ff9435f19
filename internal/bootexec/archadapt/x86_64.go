package archadapt

import (
	"encoding/binary"

	"github.com/lionxlover/lblcore/internal/bootexec/kernelfmt"
	"github.com/lionxlover/lblcore/internal/hallog"
	"github.com/lionxlover/lblcore/internal/halinfo"
	"github.com/lionxlover/lblcore/internal/memory"
)

// lblBootMagicX86_64 matches the original's LBL_BOOT_MAGIC_X86_64 marker
// tag (packed into 8 bytes instead of the original's placeholder literal).
const lblBootMagicX86_64 uint64 = 0x4c424c7838365f36

// bootParamsX86_64 mirrors the original's LblBootParamsX86_64 layout.
type bootParamsX86_64 struct {
	Magic             uint64
	Version           uint32
	_                 uint32 // padding to keep 8-byte fields aligned
	KernelEntry       uint64
	KernelBase        uint64
	KernelSize        uint64
	InitrdBase        uint64
	InitrdSize        uint64
	CmdlinePtr        uint64
	MemoryMapPtr      uint64
	MemoryMapEntries  uint64
	FramebufferAddr   uint64
	FramebufferWidth  uint32
	FramebufferHeight uint32
	FramebufferPitch  uint32
	FramebufferBpp    uint8
	_                 [3]byte
	AcpiRsdpPtr       uint64
}

type x86_64Adapter struct{}

func (x86_64Adapter) Arch() Arch { return ArchX86_64 }

func (x86_64Adapter) PrepareAndJump(hal *halinfo.Services, region *memory.Region, kernel kernelfmt.KernelInfo, initrd *kernelfmt.LoadedImageInfo, cmdline string) (HandoffResult, error) {
	log := hallog.Logger()
	log.Infof("archadapt(x86_64): preparing kernel jump to %#x with cmdline %q", kernel.EntryPoint, cmdline)

	cmdlineBytes := append([]byte(cmdline), 0)
	cmdlineAddr, cmdlineDest, err := region.Allocate(uint64(len(cmdlineBytes)), 1)
	if err != nil {
		return HandoffResult{}, err
	}
	copy(cmdlineDest, cmdlineBytes)

	var initrdBase, initrdSize uint64
	if initrd != nil {
		initrdBase, initrdSize = initrd.LoadAddress, initrd.Size
		log.Infof("archadapt(x86_64): initrd at %#x, size %d bytes", initrdBase, initrdSize)
	}

	fb := hal.Framebuffer()
	params := bootParamsX86_64{
		Magic:             lblBootMagicX86_64,
		Version:           1,
		KernelEntry:       kernel.EntryPoint,
		KernelBase:        kernel.LoadAddress,
		KernelSize:        kernel.Size,
		InitrdBase:        initrdBase,
		InitrdSize:        initrdSize,
		CmdlinePtr:        cmdlineAddr,
		FramebufferAddr:   fb.Addr,
		FramebufferWidth:  fb.Width,
		FramebufferHeight: fb.Height,
		FramebufferPitch:  fb.Pitch,
		FramebufferBpp:    fb.Bpp,
		AcpiRsdpPtr:       hal.AcpiRSDP(),
	}

	const paramsSize = 112
	paramsAddr, paramsDest, err := region.Allocate(paramsSize, 16)
	if err != nil {
		return HandoffResult{}, err
	}
	encodeBootParamsX86_64(paramsDest, params)

	return HandoffResult{
		Arch:        ArchX86_64,
		EntryPoint:  kernel.EntryPoint,
		ParamsAddr:  paramsAddr,
		ParamsSize:  paramsSize,
		Implemented: true,
		Registers: map[string]uint64{
			"rdi": paramsAddr, // boot params pointer, first integer-argument register per the System V AMD64 ABI
		},
	}, nil
}

// encodeBootParamsX86_64 writes the struct's fields little-endian into
// dest, matching the C-compatible repr(C) layout the original used.
func encodeBootParamsX86_64(dest []byte, p bootParamsX86_64) {
	le := binary.LittleEndian
	le.PutUint64(dest[0:8], p.Magic)
	le.PutUint32(dest[8:12], p.Version)
	le.PutUint64(dest[16:24], p.KernelEntry)
	le.PutUint64(dest[24:32], p.KernelBase)
	le.PutUint64(dest[32:40], p.KernelSize)
	le.PutUint64(dest[40:48], p.InitrdBase)
	le.PutUint64(dest[48:56], p.InitrdSize)
	le.PutUint64(dest[56:64], p.CmdlinePtr)
	le.PutUint64(dest[64:72], p.MemoryMapPtr)
	le.PutUint64(dest[72:80], p.MemoryMapEntries)
	le.PutUint64(dest[80:88], p.FramebufferAddr)
	le.PutUint32(dest[88:92], p.FramebufferWidth)
	le.PutUint32(dest[92:96], p.FramebufferHeight)
	le.PutUint32(dest[96:100], p.FramebufferPitch)
	dest[100] = p.FramebufferBpp
	le.PutUint64(dest[104:112], p.AcpiRsdpPtr)
}
