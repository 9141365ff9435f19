// Package bootexec is the boot executor: given a validated configuration
// and a chosen entry, it resolves the entry's volume, verifies the image's
// signature when the entry is marked secure, measures every kernel, initrd
// and UEFI image into the simulated TPM bank whether or not the entry is
// secure, loads it through the right
// pipeline for the entry's type, and dispatches to the architecture
// handoff adapter (or to UEFI LoadImage/StartImage for chainloaded
// binaries, or to a registered internal-tool handler).
package bootexec

import (
	"context"
	"fmt"
	"strings"

	"github.com/lionxlover/lblcore/internal/bootexec/archadapt"
	"github.com/lionxlover/lblcore/internal/bootexec/kernelfmt"
	"github.com/lionxlover/lblcore/internal/bootexec/peclassify"
	"github.com/lionxlover/lblcore/internal/config"
	"github.com/lionxlover/lblcore/internal/fs"
	"github.com/lionxlover/lblcore/internal/hallog"
	"github.com/lionxlover/lblcore/internal/halinfo"
	"github.com/lionxlover/lblcore/internal/memory"
	"github.com/lionxlover/lblcore/internal/secmgr"
	"github.com/lionxlover/lblcore/internal/secmgr/tpm"
)

// BootError is the sentinel error taxonomy for this package.
type BootError struct {
	Code string
	Err  error
}

func (e *BootError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bootexec: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("bootexec: %s", e.Code)
}

func (e *BootError) Unwrap() error { return e.Err }

// BootError codes.
const (
	ErrEntryNotFound        = "entry_not_found"
	ErrVolumeNotFound       = "volume_not_found"
	ErrKernelNotFound       = "kernel_not_found"
	ErrSignatureRequired    = "signature_required"
	ErrUnsupportedEntryType = "unsupported_entry_type"
	ErrUnknownInternalTool  = "unknown_internal_tool"
	ErrLoadFailed           = "load_failed"
	ErrHandoffFailed        = "handoff_failed"
)

func newErr(code string, err error) *BootError { return &BootError{Code: code, Err: err} }

// UEFIServices extends archadapt's boot-services surface with the
// LoadImage/StartImage calls a uefi_chainload or uefi_application entry
// needs. The engine never implements a real UEFI firmware; this interface
// lets a host-specific adapter plug one in, or lets tests substitute a fake.
type UEFIServices interface {
	archadapt.FirmwareServices
	LoadImage(path string, data []byte) (handle uint64, err error)
	StartImage(handle uint64) error
}

// InternalToolHandler implements one internal:// tool entry.
type InternalToolHandler func(ctx context.Context, ex *Executor) error

// Report describes the outcome of a single Boot call.
type Report struct {
	EntryID      string
	EntryType    config.EntryType
	VolumeID     fs.VolumeID
	Handoff      archadapt.HandoffResult
	PEEvidence   *peclassify.Evidence
	Measured     bool
	SignatureOK  bool
	InternalTool string
}

// Executor ties the HAL, filesystem manager, security manager, and arch
// adapters together into the single Boot operation.
type Executor struct {
	hal    *halinfo.Services
	fsmgr  *fs.Manager
	keys   *secmgr.KeyStore
	bank   *tpm.Bank
	region *memory.Region
	fw     UEFIServices

	tools map[string]InternalToolHandler
}

// NewExecutor builds an Executor. keys may be nil, in which case any entry
// with Secure=true fails signature verification outright.
func NewExecutor(hal *halinfo.Services, fsmgr *fs.Manager, keys *secmgr.KeyStore, region *memory.Region) *Executor {
	return &Executor{
		hal:    hal,
		fsmgr:  fsmgr,
		keys:   keys,
		bank:   tpm.NewBank(),
		region: region,
		tools:  make(map[string]InternalToolHandler),
	}
}

// SetFirmware installs the UEFI services implementation used for
// uefi_chainload/uefi_application entries. Without one, those entry types
// still classify and measure the target binary but report Handoff as
// unimplemented, matching archadapt's stub convention for CPU targets with
// no real jump available.
func (ex *Executor) SetFirmware(fw UEFIServices) { ex.fw = fw }

// RegisterInternalTool adds a handler reachable from an internal_tool entry
// whose kernel_path is "internal://<name>".
func (ex *Executor) RegisterInternalTool(name string, h InternalToolHandler) {
	ex.tools[name] = h
}

// Boot resolves entryID within cfg (or cfg's default entry if entryID is
// empty), verifies/measures/loads it, and hands off to arch.
func (ex *Executor) Boot(ctx context.Context, cfg *config.LblConfig, entryID string, arch archadapt.Arch) (Report, error) {
	log := hallog.Logger()

	entry := resolveEntry(cfg, entryID)
	if entry == nil {
		return Report{}, newErr(ErrEntryNotFound, fmt.Errorf("entry %q not found", entryID))
	}

	log.Infow("bootexec: booting entry", "id", entry.ID, "type", entry.Type, "secure", entry.Secure)

	switch entry.Type {
	case config.EntryKernelDirect:
		return ex.bootKernelDirect(ctx, entry, arch)
	case config.EntryUefiChainload, config.EntryUefiApplication:
		return ex.bootUEFIImage(ctx, entry)
	case config.EntryInternalTool:
		return ex.bootInternalTool(ctx, entry)
	default:
		return Report{}, newErr(ErrUnsupportedEntryType, fmt.Errorf("entry type %q", entry.Type))
	}
}

func resolveEntry(cfg *config.LblConfig, entryID string) *config.BootEntry {
	if entryID == "" {
		return cfg.DefaultEntry()
	}
	for i := range cfg.Entries {
		if cfg.Entries[i].ID == entryID {
			return &cfg.Entries[i]
		}
	}
	return nil
}

// resolveVolume finds the Instance to read entry's files from: the
// explicit volume_id when set, otherwise the first mounted volume on which
// path exists.
func (ex *Executor) resolveVolume(entry *config.BootEntry, path string) (fs.VolumeID, fs.Instance, error) {
	if entry.VolumeID != "" {
		id := fs.VolumeID(entry.VolumeID)
		inst, err := ex.fsmgr.Volume(id)
		if err != nil {
			return "", nil, newErr(ErrVolumeNotFound, err)
		}
		return id, inst, nil
	}

	for _, id := range ex.fsmgr.Volumes() {
		inst, err := ex.fsmgr.Volume(id)
		if err != nil {
			continue
		}
		if r, err := inst.Open(path); err == nil {
			r.Close()
			return id, inst, nil
		}
	}
	return "", nil, newErr(ErrKernelNotFound, fmt.Errorf("%q not found on any mounted volume", path))
}

func (ex *Executor) bootKernelDirect(ctx context.Context, entry *config.BootEntry, arch archadapt.Arch) (Report, error) {
	volID, inst, err := ex.resolveVolume(entry, entry.KernelPath)
	if err != nil {
		return Report{}, err
	}

	kernelData, err := inst.ReadFile(entry.KernelPath)
	if err != nil {
		return Report{}, newErr(ErrKernelNotFound, err)
	}

	report := Report{EntryID: entry.ID, EntryType: entry.Type, VolumeID: volID}

	if entry.Secure {
		if ex.keys == nil {
			return Report{}, newErr(ErrSignatureRequired, fmt.Errorf("entry %q is secure but no key store is configured", entry.ID))
		}
		if err := secmgr.VerifyEntry(ex.keys, inst, entry.KernelPath, kernelData); err != nil {
			return Report{}, newErr(ErrSignatureRequired, err)
		}
		report.SignatureOK = true
	}

	ex.bank.Extend(tpm.PCRKernel, kernelData, fmt.Sprintf("kernel:%s", entry.KernelPath))
	ex.bank.Extend(tpm.PCRCmdline, []byte(entry.Cmdline), "cmdline")
	report.Measured = true

	kernel, err := kernelfmt.LoadKernel(ex.region, kernelData, entry.KernelPath)
	if err != nil {
		return Report{}, newErr(ErrLoadFailed, err)
	}

	var initrd *kernelfmt.LoadedImageInfo
	if entry.InitrdPath != "" {
		initrdData, err := inst.ReadFile(entry.InitrdPath)
		if err != nil {
			return Report{}, newErr(ErrLoadFailed, err)
		}
		ex.bank.Extend(tpm.PCRInitrd, initrdData, fmt.Sprintf("initrd:%s", entry.InitrdPath))

		loaded, err := kernelfmt.LoadInitrd(ex.region, initrdData, entry.InitrdPath)
		if err != nil {
			return Report{}, newErr(ErrLoadFailed, err)
		}
		initrd = &loaded
	}

	adapter := archadapt.ForArch(arch)
	if adapter == nil {
		return Report{}, newErr(ErrHandoffFailed, fmt.Errorf("no arch adapter for %q", arch))
	}
	handoff, err := adapter.PrepareAndJump(ex.hal, ex.region, kernel, initrd, entry.Cmdline)
	if err != nil {
		return Report{}, newErr(ErrHandoffFailed, err)
	}
	report.Handoff = handoff
	return report, nil
}

// bootUEFIImage handles both uefi_chainload and uefi_application: the
// original distinguishes them only by startup hint, both are classified
// and launched identically through LoadImage/StartImage.
func (ex *Executor) bootUEFIImage(ctx context.Context, entry *config.BootEntry) (Report, error) {
	volID, inst, err := ex.resolveVolume(entry, entry.KernelPath)
	if err != nil {
		return Report{}, err
	}

	data, err := inst.ReadFile(entry.KernelPath)
	if err != nil {
		return Report{}, newErr(ErrKernelNotFound, err)
	}

	report := Report{EntryID: entry.ID, EntryType: entry.Type, VolumeID: volID}

	ev, err := peclassify.Classify(entry.KernelPath, data)
	if err != nil {
		return Report{}, newErr(ErrLoadFailed, err)
	}
	report.PEEvidence = &ev

	if entry.Secure {
		if ex.keys == nil {
			return Report{}, newErr(ErrSignatureRequired, fmt.Errorf("entry %q is secure but no key store is configured", entry.ID))
		}
		if err := secmgr.VerifyEntry(ex.keys, inst, entry.KernelPath, data); err != nil {
			return Report{}, newErr(ErrSignatureRequired, err)
		}
		report.SignatureOK = true
	}

	ex.bank.Extend(tpm.PCRKernel, data, fmt.Sprintf("uefi_image:%s", entry.KernelPath))
	report.Measured = true

	if ex.fw == nil {
		report.Handoff = archadapt.HandoffResult{
			Implemented: false,
			UnimplNote:  "no UEFIServices configured; classification and measurement only",
		}
		return report, nil
	}

	handle, err := ex.fw.LoadImage(entry.KernelPath, data)
	if err != nil {
		return Report{}, newErr(ErrHandoffFailed, err)
	}
	if err := ex.fw.StartImage(handle); err != nil {
		return Report{}, newErr(ErrHandoffFailed, err)
	}
	report.Handoff = archadapt.HandoffResult{Implemented: true}
	return report, nil
}

func (ex *Executor) bootInternalTool(ctx context.Context, entry *config.BootEntry) (Report, error) {
	const scheme = "internal://"
	if !strings.HasPrefix(entry.KernelPath, scheme) {
		return Report{}, newErr(ErrUnsupportedEntryType, fmt.Errorf("internal_tool entry %q must set kernel_path to %q<name>", entry.ID, scheme))
	}
	name := strings.TrimPrefix(entry.KernelPath, scheme)

	handler, ok := ex.tools[name]
	if !ok {
		return Report{}, newErr(ErrUnknownInternalTool, fmt.Errorf("no internal tool registered as %q", name))
	}

	if err := handler(ctx, ex); err != nil {
		return Report{}, newErr(ErrLoadFailed, err)
	}
	return Report{EntryID: entry.ID, EntryType: entry.Type, InternalTool: name}, nil
}

// TPMBank exposes the measured-boot PCR bank for inspection (e.g. by the
// CLI's inspect command or an attestation client reading the event log).
func (ex *Executor) TPMBank() *tpm.Bank { return ex.bank }
