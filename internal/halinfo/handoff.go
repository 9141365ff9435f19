// Package halinfo implements the Handoff & HAL Inventory component: it
// validates the fixed-layout record produced by the first-stage loader,
// freezes it as read-only process-wide state, and exposes the memory map,
// framebuffer, and firmware pointers the rest of the engine needs.
package halinfo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// LBLBIMagic is the handoff record's expected magic tag ("LBL_BI_MGC"
// truncated/packed to 8 bytes, little-endian, per spec.md §6).
const LBLBIMagic uint64 = 0x4c424c5f42494d47

// supportedVersion is the only handoff layout version this build understands.
const supportedVersion uint32 = 1

// HalError is the sentinel error type returned by Initialize.
type HalError struct {
	Code string
	Err  error
}

func (e *HalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hal: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("hal: %s", e.Code)
}

func (e *HalError) Unwrap() error { return e.Err }

func halErr(code string, err error) *HalError { return &HalError{Code: code, Err: err} }

// Sentinel HAL error codes, per spec.md §4.1.
const (
	ErrNullHandoff    = "null_handoff"
	ErrInvalidMagic   = "invalid_magic"
	ErrMemoryMapParse = "memory_map_parse_failed"
	ErrAcpiInit       = "acpi_init_failed"
)

// rawHandoff is the bit-exact little-endian layout from spec.md §6. Field
// order and widths must not change without a version bump.
type rawHandoff struct {
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

// MemoryMapEntry mirrors the firmware's native EFI_MEMORY_DESCRIPTOR layout.
type MemoryMapEntry struct {
	Type          uint32
	PhysicalStart uint64
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
}

// Framebuffer describes the display surface handed off by the first stage.
type Framebuffer struct {
	Addr        uint64
	Size        uint64
	Width       uint32
	Height      uint32
	Pitch       uint32
	Bpp         uint8
	PixelFormat uint8
}

// Handoff is the parsed, validated handoff record.
type Handoff struct {
	Version         uint32
	CoreLoadAddr    uint64
	CoreSize        uint64
	CoreEntryOffset uint64
	MemoryMapKey    uint64
	Framebuffer     Framebuffer
	AcpiRsdpPtr     uint64
	FirmwareTable   uint64
	MemoryMap       []MemoryMapEntry
}

// ParseHandoff decodes and validates a raw handoff record. It does not
// require that memoryMap be resolvable from MemoryMapPtr directly — callers
// on a real platform read the map out of the address described by
// MemoryMapPtr/MemoryMapSize/DescriptorSize; this function accepts the
// pre-sliced descriptor bytes instead, since Go has no raw pointer access to
// arbitrary physical memory outside the simulated arena (see
// internal/memory).
func ParseHandoff(headerBytes []byte, memoryMapBytes []byte) (*Handoff, error) {
	if len(headerBytes) == 0 {
		return nil, halErr(ErrNullHandoff, errors.New("empty handoff buffer"))
	}

	var raw rawHandoff
	r := bytes.NewReader(headerBytes)
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return nil, halErr(ErrNullHandoff, err)
	}

	if raw.Magic != LBLBIMagic {
		return nil, halErr(ErrInvalidMagic, fmt.Errorf("got %#x want %#x", raw.Magic, LBLBIMagic))
	}
	if raw.Version != supportedVersion {
		return nil, halErr(ErrInvalidMagic, fmt.Errorf("unsupported handoff version %d", raw.Version))
	}

	entries, err := parseMemoryMap(memoryMapBytes, raw.DescriptorSize, raw.MemoryMapSize)
	if err != nil {
		return nil, halErr(ErrMemoryMapParse, err)
	}

	h := &Handoff{
		Version:         raw.Version,
		CoreLoadAddr:    raw.CoreLoadAddr,
		CoreSize:        raw.CoreSize,
		CoreEntryOffset: raw.CoreEntryOffset,
		MemoryMapKey:    raw.MemoryMapKey,
		Framebuffer: Framebuffer{
			Addr:        raw.FramebufferAddr,
			Size:        raw.FramebufferSize,
			Width:       raw.FramebufferWidth,
			Height:      raw.FramebufferHeight,
			Pitch:       raw.FramebufferPitch,
			Bpp:         raw.FramebufferBpp,
			PixelFormat: raw.FramebufferPixelFormat,
		},
		AcpiRsdpPtr:   raw.AcpiRsdpPtr,
		FirmwareTable: raw.FirmwareSystemTablePtr,
		MemoryMap:     entries,
	}

	if err := validatePointers(h); err != nil {
		return nil, halErr(ErrAcpiInit, err)
	}

	return h, nil
}

func parseMemoryMap(buf []byte, descriptorSize, mapSize uint64) ([]MemoryMapEntry, error) {
	if descriptorSize == 0 {
		if len(buf) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("descriptor size is zero but memory map bytes present")
	}
	if uint64(len(buf)) < mapSize {
		return nil, fmt.Errorf("memory map buffer too short: have %d want %d", len(buf), mapSize)
	}

	count := mapSize / descriptorSize
	entries := make([]MemoryMapEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		off := i * descriptorSize
		chunk := buf[off : off+descriptorSize]
		if len(chunk) < 40 {
			return nil, fmt.Errorf("descriptor %d truncated", i)
		}
		var e MemoryMapEntry
		e.Type = binary.LittleEndian.Uint32(chunk[0:4])
		e.PhysicalStart = binary.LittleEndian.Uint64(chunk[8:16])
		e.VirtualStart = binary.LittleEndian.Uint64(chunk[16:24])
		e.NumberOfPages = binary.LittleEndian.Uint64(chunk[24:32])
		e.Attribute = binary.LittleEndian.Uint64(chunk[32:40])
		entries = append(entries, e)
	}
	return entries, nil
}

// validatePointers enforces that framebuffer/ACPI/firmware pointers (when
// non-zero) fall inside some region described by the memory map, per the
// handoff record's invariant in spec.md §3.
func validatePointers(h *Handoff) error {
	check := func(name string, addr uint64) error {
		if addr == 0 {
			return nil
		}
		for _, e := range h.MemoryMap {
			const pageSize = 4096
			start := e.PhysicalStart
			end := start + e.NumberOfPages*pageSize
			if addr >= start && addr < end {
				return nil
			}
		}
		if len(h.MemoryMap) == 0 {
			// No memory map supplied (e.g. unit tests exercising handoff
			// parsing in isolation); nothing to cross-check against.
			return nil
		}
		return fmt.Errorf("%s pointer %#x not covered by memory map", name, addr)
	}

	if err := check("framebuffer", h.Framebuffer.Addr); err != nil {
		return err
	}
	if err := check("acpi_rsdp", h.AcpiRsdpPtr); err != nil {
		return err
	}
	if err := check("firmware_system_table", h.FirmwareTable); err != nil {
		return err
	}
	return nil
}

// Clock reports monotonic time, resolution <=16ms, per spec.md §4.1.
type Clock struct {
	start time.Time
}

// NewClock returns a Clock frozen to "now".
func NewClock() *Clock { return &Clock{start: time.Now()} }

// NowMillis returns monotonically non-decreasing milliseconds since the
// clock was created.
func (c *Clock) NowMillis() int64 {
	return time.Since(c.start).Milliseconds()
}
