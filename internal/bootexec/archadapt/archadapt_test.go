package archadapt

import (
	"testing"

	"github.com/lionxlover/lblcore/internal/bootexec/kernelfmt"
	"github.com/lionxlover/lblcore/internal/halinfo"
	"github.com/lionxlover/lblcore/internal/memory"
)

func testHal(t *testing.T) *halinfo.Services {
	t.Helper()
	data := validHandoffBytes()
	s, err := halinfo.Initialize(data, nil)
	if err != nil {
		t.Fatalf("halinfo.Initialize: %v", err)
	}
	return s
}

func TestForArch(t *testing.T) {
	tests := []struct {
		arch Arch
		want bool // whether ForArch returns non-nil
	}{
		{ArchX86_64, true},
		{ArchAARCH64, true},
		{ArchRISCV64, true},
		{ArchRISCV32, true},
		{ArchX86, true},
		{ArchARM, true},
		{Arch("bogus"), false},
	}

	for _, tt := range tests {
		a := ForArch(tt.arch)
		if (a != nil) != tt.want {
			t.Errorf("ForArch(%s) = %v, want non-nil=%v", tt.arch, a, tt.want)
		}
	}
}

func TestX86_64Adapter_PrepareAndJump(t *testing.T) {
	hal := testHal(t)
	region := memory.NewRegion(0x4000000, 1<<20)
	adapter := x86_64Adapter{}

	kernel := kernelfmt.KernelInfo{EntryPoint: 0x100000, LoadAddress: 0x100000, Size: 0x8000}
	res, err := adapter.PrepareAndJump(hal, region, kernel, nil, "console=ttyS0")
	if err != nil {
		t.Fatalf("PrepareAndJump: %v", err)
	}
	if !res.Implemented {
		t.Fatal("Implemented = false, want true")
	}
	if res.EntryPoint != kernel.EntryPoint {
		t.Errorf("EntryPoint = %#x, want %#x", res.EntryPoint, kernel.EntryPoint)
	}
	if res.Registers["rdi"] != res.ParamsAddr {
		t.Errorf("rdi = %#x, want ParamsAddr %#x", res.Registers["rdi"], res.ParamsAddr)
	}
}

func TestAarch64Adapter_PrepareAndJump(t *testing.T) {
	hal := testHal(t)
	region := memory.NewRegion(0x4000000, 1<<20)
	adapter := aarch64Adapter{}

	kernel := kernelfmt.KernelInfo{EntryPoint: 0x200000}
	res, err := adapter.PrepareAndJump(hal, region, kernel, nil, "")
	if err != nil {
		t.Fatalf("PrepareAndJump: %v", err)
	}
	if res.Registers["x1"] != 0 || res.Registers["x2"] != 0 || res.Registers["x3"] != 0 {
		t.Errorf("Registers = %v, want x1-x3 zeroed", res.Registers)
	}
}

func TestUnimplementedAdapter_ReturnsError(t *testing.T) {
	hal := testHal(t)
	region := memory.NewRegion(0, 4096)
	adapter := unimplementedAdapter{arch: ArchX86}

	res, err := adapter.PrepareAndJump(hal, region, kernelfmt.KernelInfo{}, nil, "")
	if err == nil {
		t.Fatal("PrepareAndJump() error = nil, want error for unimplemented arch")
	}
	if res.Implemented {
		t.Error("Implemented = true, want false")
	}
}

type fakeFirmware struct {
	keys     []uint64
	callIdx  int
	staleAt  int
}

func (f *fakeFirmware) GetMemoryMapKey() (uint64, error) {
	k := f.keys[f.callIdx]
	return k, nil
}

func (f *fakeFirmware) ExitBootServices(key uint64) error {
	idx := f.callIdx
	f.callIdx++
	if idx == f.staleAt {
		return ErrStaleMemoryMapKey{}
	}
	return nil
}

func TestExitBootServicesWithRetry_Succeeds(t *testing.T) {
	fw := &fakeFirmware{keys: []uint64{1}, staleAt: -1}
	if err := ExitBootServicesWithRetry(fw); err != nil {
		t.Fatalf("ExitBootServicesWithRetry: %v", err)
	}
}

func TestExitBootServicesWithRetry_RetriesOnceOnStaleKey(t *testing.T) {
	fw := &fakeFirmware{keys: []uint64{1, 2}, staleAt: 0}
	if err := ExitBootServicesWithRetry(fw); err != nil {
		t.Fatalf("ExitBootServicesWithRetry: %v", err)
	}
	if fw.callIdx != 2 {
		t.Errorf("ExitBootServices called %d times, want 2 (initial + retry)", fw.callIdx)
	}
}

// validHandoffBytes constructs a minimal valid handoff record, mirroring
// the layout test helper in internal/probe.
func validHandoffBytes() []byte {
	return buildHandoffLayout()
}
