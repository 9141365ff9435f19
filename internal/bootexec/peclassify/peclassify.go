// Package peclassify classifies PE/EFI binaries for the boot executor's
// uefi_chainload/uefi_application entries, adapted from a disk-image
// inspector's offline PE evidence extractor into a pre-handoff classifier:
// instead of reporting section hashes for an audit report, it answers the
// one question the executor needs — is this a UKI, and what architecture
// does it target — before handing the image to a FirmwareServices
// LoadImage/StartImage call.
package peclassify

import (
	"bytes"
	"debug/pe"
	"fmt"
	"strings"
)

// Kind is the bootloader/EFI-application classification.
type Kind string

const (
	KindUnknown     Kind = "unknown"
	KindGrub        Kind = "grub"
	KindShim        Kind = "shim"
	KindSystemdBoot Kind = "systemd_boot"
	KindMokManager  Kind = "mok_manager"
	KindUKI         Kind = "uki"
)

// Evidence is what the classifier can determine about a PE/EFI image
// without executing it.
type Evidence struct {
	Arch     string
	Kind     Kind
	IsUKI    bool
	Signed   bool
	Sections []string
}

// Classify parses a PE/EFI binary and returns its architecture and kind.
func Classify(path string, blob []byte) (Evidence, error) {
	var ev Evidence

	f, err := pe.NewFile(bytes.NewReader(blob))
	if err != nil {
		return ev, fmt.Errorf("peclassify: %w", err)
	}
	defer f.Close()

	ev.Arch = machineToArch(f.FileHeader.Machine)
	for _, s := range f.Sections {
		ev.Sections = append(ev.Sections, strings.TrimRight(s.Name, "\x00"))
	}
	ev.Signed = hasAuthenticodeSignature(f)

	ev.IsUKI = hasSection(ev.Sections, ".linux") &&
		(hasSection(ev.Sections, ".cmdline") || hasSection(ev.Sections, ".osrel") || hasSection(ev.Sections, ".uname"))
	if ev.IsUKI {
		ev.Kind = KindUKI
	} else {
		ev.Kind = classifyKind(path, ev.Sections)
	}

	return ev, nil
}

func hasAuthenticodeSignature(f *pe.File) bool {
	const securityDirIndex = 4
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		return len(oh.DataDirectory) > securityDirIndex &&
			oh.DataDirectory[securityDirIndex].Size > 0 && oh.DataDirectory[securityDirIndex].VirtualAddress > 0
	case *pe.OptionalHeader64:
		return len(oh.DataDirectory) > securityDirIndex &&
			oh.DataDirectory[securityDirIndex].Size > 0 && oh.DataDirectory[securityDirIndex].VirtualAddress > 0
	default:
		return false
	}
}

func classifyKind(path string, sections []string) Kind {
	lp := strings.ToLower(path)

	switch {
	case strings.Contains(lp, "grub"):
		return KindGrub
	case strings.Contains(lp, "mmx64.efi"), strings.Contains(lp, "mmia32.efi"):
		return KindMokManager
	case strings.Contains(lp, "shim"):
		return KindShim
	case strings.Contains(lp, "systemd") && strings.Contains(lp, "boot"):
		return KindSystemdBoot
	}

	switch {
	case hasSection(sections, ".linux"):
		return KindUKI
	case hasSection(sections, ".mods"), hasSectionPrefix(sections, ".module"):
		return KindGrub
	case hasSection(sections, ".sdmagic"):
		return KindSystemdBoot
	case hasSection(sections, ".sbat"):
		return KindShim
	}

	return KindUnknown
}

func hasSection(secs []string, want string) bool {
	want = strings.ToLower(want)
	for _, s := range secs {
		if strings.ToLower(strings.TrimSpace(s)) == want {
			return true
		}
	}
	return false
}

func hasSectionPrefix(secs []string, prefix string) bool {
	prefix = strings.ToLower(prefix)
	for _, s := range secs {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), prefix) {
			return true
		}
	}
	return false
}

func machineToArch(m uint16) string {
	switch m {
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return "x86_64"
	case pe.IMAGE_FILE_MACHINE_I386:
		return "x86"
	case pe.IMAGE_FILE_MACHINE_ARM64:
		return "aarch64"
	case pe.IMAGE_FILE_MACHINE_ARM:
		return "arm"
	default:
		return fmt.Sprintf("unknown(0x%x)", m)
	}
}
