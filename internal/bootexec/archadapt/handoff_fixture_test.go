package archadapt

import (
	"bytes"
	"encoding/binary"

	"github.com/lionxlover/lblcore/internal/halinfo"
)

// handoffLayout mirrors halinfo's unexported rawHandoff field-for-field,
// just enough to produce a well-formed buffer for tests in this package.
type handoffLayout struct {
	Magic                  uint64
	Version                uint32
	HeaderSize             uint32
	TotalSize              uint32
	CoreLoadAddr           uint64
	CoreSize               uint64
	CoreEntryOffset        uint64
	MemoryMapPtr           uint64
	MemoryMapSize          uint64
	MemoryMapKey           uint64
	DescriptorSize         uint64
	DescriptorVersion      uint32
	FramebufferAddr        uint64
	FramebufferSize        uint64
	FramebufferWidth       uint32
	FramebufferHeight      uint32
	FramebufferPitch       uint32
	FramebufferBpp         uint8
	FramebufferPixelFormat uint8
	Reserved               uint16
	AcpiRsdpPtr            uint64
	FirmwareSystemTablePtr uint64
	Reserved1              uint64
	Reserved2              uint64
}

func buildHandoffLayout() []byte {
	l := handoffLayout{
		Magic:           halinfo.LBLBIMagic,
		Version:         1,
		HeaderSize:      120,
		TotalSize:       120,
		CoreLoadAddr:    0x100000,
		CoreSize:        0x8000,
		CoreEntryOffset: 0x40,
		MemoryMapKey:    1,
		DescriptorSize:  40,
		FramebufferWidth:  1024,
		FramebufferHeight: 768,
	}
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, l)
	return buf.Bytes()
}
