package rpminspect

import "testing"

func TestSupports_MagicBytes(t *testing.T) {
	data := []byte{0xed, 0xab, 0xee, 0xdb, 0, 0, 0}
	if !(plugin{}).Supports("/pkgs/whatever", data) {
		t.Error("Supports() = false, want true for RPM lead magic")
	}
}

func TestSupports_SuffixFallback(t *testing.T) {
	if !(plugin{}).Supports("/pkgs/thing.RPM", []byte("not actually an rpm")) {
		t.Error("Supports() = false, want true for .rpm suffix")
	}
}

func TestSupports_Rejects(t *testing.T) {
	if (plugin{}).Supports("/pkgs/thing.deb", []byte("not an rpm")) {
		t.Error("Supports() = true, want false for unrelated file")
	}
}

func TestInspect_RejectsGarbage(t *testing.T) {
	if _, err := (plugin{}).Inspect("/pkgs/thing.rpm", []byte("not a valid rpm file")); err == nil {
		t.Error("Inspect() error = nil, want error for malformed RPM data")
	}
}
