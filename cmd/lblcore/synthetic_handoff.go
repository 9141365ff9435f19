package main

import (
	"bytes"
	"encoding/binary"

	"github.com/lionxlover/lblcore/internal/halinfo"
)

// syntheticHandoff builds a minimal, valid handoff record with no
// framebuffer/ACPI/firmware pointers and an empty memory map, for commands
// that need a halinfo.Services on a development workstation where no real
// first-stage loader has ever run.
func syntheticHandoff() *halinfo.Services {
	var buf bytes.Buffer
	write := func(v interface{}) { binary.Write(&buf, binary.LittleEndian, v) }

	write(halinfo.LBLBIMagic)        // Magic
	write(uint32(1))                 // Version
	write(uint32(0))                 // HeaderSize (unchecked by ParseHandoff)
	write(uint32(0))                 // TotalSize
	write(uint64(0x200000))          // CoreLoadAddr
	write(uint64(0x80000))           // CoreSize
	write(uint64(0x1000))            // CoreEntryOffset
	write(uint64(0))                 // MemoryMapPtr
	write(uint64(0))                 // MemoryMapSize
	write(uint64(1))                 // MemoryMapKey
	write(uint64(40))                // DescriptorSize
	write(uint32(1))                 // DescriptorVersion
	write(uint64(0))                 // FramebufferAddr
	write(uint64(0))                 // FramebufferSize
	write(uint32(0))                 // FramebufferWidth
	write(uint32(0))                 // FramebufferHeight
	write(uint32(0))                 // FramebufferPitch
	write(uint8(0))                  // FramebufferBpp
	write(uint8(0))                  // FramebufferPixelFormat
	write(uint16(0))                 // Reserved
	write(uint64(0))                 // AcpiRsdpPtr
	write(uint64(0))                 // FirmwareSystemTablePtr
	write(uint64(0))                 // Reserved1
	write(uint64(0))                 // Reserved2

	svc, err := halinfo.Initialize(buf.Bytes(), nil)
	if err != nil {
		// The literal bytes above are a fixed, known-valid record; a failure
		// here means this function itself is broken, not user input.
		panic("lblcore: synthetic handoff record rejected: " + err.Error())
	}
	return svc
}
