package halinfo

import "github.com/lionxlover/lblcore/internal/hallog"

// Services is the immutable, process-wide HAL context every downstream
// package (probe, fs, bootexec, secmgr) receives as their first argument.
// It is built once by Initialize and never mutated, except for the device
// Inventory, which the probe orchestrator fills in as tasks complete.
type Services struct {
	handoff   *Handoff
	inventory *Inventory
	clock     *Clock
}

// Initialize parses the handoff record and freezes a Services context. The
// memoryMap argument is the pre-sliced EFI_MEMORY_DESCRIPTOR array bytes, as
// described in ParseHandoff.
func Initialize(headerBytes, memoryMapBytes []byte) (*Services, error) {
	h, err := ParseHandoff(headerBytes, memoryMapBytes)
	if err != nil {
		return nil, err
	}

	log := hallog.Logger()
	log.Infow("hal initialized",
		"version", h.Version,
		"core_load_addr", h.CoreLoadAddr,
		"memory_map_entries", len(h.MemoryMap),
		"framebuffer", h.Framebuffer.Addr != 0,
		"acpi", h.AcpiRsdpPtr != 0,
	)

	return &Services{
		handoff:   h,
		inventory: NewInventory(),
		clock:     NewClock(),
	}, nil
}

// MemoryMapEntries returns the firmware-provided memory map, unmodified.
func (s *Services) MemoryMapEntries() []MemoryMapEntry {
	return s.handoff.MemoryMap
}

// Framebuffer returns the display surface handed off by the first stage. A
// zero Addr means no framebuffer is available.
func (s *Services) Framebuffer() Framebuffer {
	return s.handoff.Framebuffer
}

// AcpiRSDP returns the ACPI RSDP pointer, or 0 if none was provided.
func (s *Services) AcpiRSDP() uint64 {
	return s.handoff.AcpiRsdpPtr
}

// FirmwareSystemTable returns the firmware system table pointer (e.g. the
// UEFI System Table), or 0 if none was provided.
func (s *Services) FirmwareSystemTable() uint64 {
	return s.handoff.FirmwareTable
}

// MemoryMapKey returns the firmware's memory map key, required by
// archadapt's ExitBootServices retry logic.
func (s *Services) MemoryMapKey() uint64 {
	return s.handoff.MemoryMapKey
}

// CoreLoadAddr, CoreSize and CoreEntryOffset describe where the engine
// itself was loaded, mirroring the handoff record.
func (s *Services) CoreLoadAddr() uint64    { return s.handoff.CoreLoadAddr }
func (s *Services) CoreSize() uint64        { return s.handoff.CoreSize }
func (s *Services) CoreEntryOffset() uint64 { return s.handoff.CoreEntryOffset }

// Now returns milliseconds elapsed since Services was initialized.
func (s *Services) Now() int64 {
	return s.clock.NowMillis()
}

// Devices returns the live device inventory, populated by the probe
// orchestrator as tasks complete.
func (s *Services) Devices() *Inventory {
	return s.inventory
}

// DeviceIndex returns the kind->device-ids secondary index for every kind
// that currently has at least one registered device.
func (s *Services) DeviceIndex() map[DeviceKind][]DeviceID {
	all := s.inventory.All()
	idx := make(map[DeviceKind][]DeviceID)
	for _, d := range all {
		idx[d.Kind] = append(idx[d.Kind], d.ID)
	}
	return idx
}
