package memory

import "testing"

func TestRegion_AllocateAlignment(t *testing.T) {
	r := NewRegion(0x2000000, 4096)

	addr1, data1, err := r.Allocate(10, 16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if addr1 != 0x2000000 {
		t.Errorf("addr1 = %#x, want %#x", addr1, 0x2000000)
	}
	if len(data1) != 10 {
		t.Errorf("len(data1) = %d, want 10", len(data1))
	}

	addr2, _, err := r.Allocate(4, 16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if addr2 != 0x2000000+16 {
		t.Errorf("addr2 = %#x, want %#x (16-byte aligned)", addr2, 0x2000000+16)
	}
}

func TestRegion_ExhaustionFails(t *testing.T) {
	r := NewRegion(0, 32)

	if _, _, err := r.Allocate(32, 1); err != nil {
		t.Fatalf("Allocate(32): %v", err)
	}
	if _, _, err := r.Allocate(1, 1); err == nil {
		t.Fatal("Allocate(1) after exhaustion: error = nil, want error")
	}
}

func TestRegion_AllocateContiguousIs16ByteAligned(t *testing.T) {
	r := NewRegion(0x1000, 256)

	if _, _, err := r.Allocate(3, 1); err != nil {
		t.Fatalf("Allocate(3): %v", err)
	}

	addr, _, err := r.AllocateContiguous(8)
	if err != nil {
		t.Fatalf("AllocateContiguous: %v", err)
	}
	if addr%16 != 0 {
		t.Errorf("AllocateContiguous address %#x is not 16-byte aligned", addr)
	}
}

func TestAssertDisjoint(t *testing.T) {
	tests := []struct {
		name    string
		spans   map[string]Span
		wantErr bool
	}{
		{
			name: "disjoint",
			spans: map[string]Span{
				"kernel": {Start: 0x100000, End: 0x108000},
				"initrd": {Start: 0x200000, End: 0x210000},
			},
			wantErr: false,
		},
		{
			name: "overlapping",
			spans: map[string]Span{
				"kernel": {Start: 0x100000, End: 0x108000},
				"initrd": {Start: 0x104000, End: 0x110000},
			},
			wantErr: true,
		},
		{
			name: "adjacent but not overlapping",
			spans: map[string]Span{
				"kernel": {Start: 0x100000, End: 0x108000},
				"initrd": {Start: 0x108000, End: 0x110000},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AssertDisjoint(tt.spans)
			if (err != nil) != tt.wantErr {
				t.Errorf("AssertDisjoint() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
