// Package kernelfmt implements the kernel image format loader. ELF64 is the
// mandatory format, dispatched on magic bytes exactly like the original
// loader's is_elf64/load_elf64_kernel pair; other formats are optional,
// build-tag-gated plug-ins registered into a Registry.
package kernelfmt

import (
	"bytes"
	"compress/gzip"
	"debug/elf"
	"fmt"
	"io"
	"strings"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/lionxlover/lblcore/internal/hallog"
	"github.com/lionxlover/lblcore/internal/memory"
)

// LoadError is the sentinel error type for this package.
type LoadError struct {
	Code string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("kernelfmt: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("kernelfmt: %s", e.Code)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadError codes.
const (
	ErrInvalidFormat     = "invalid_format"
	ErrUnsupportedFormat = "unsupported_format"
	ErrMemoryAllocFailed = "memory_allocation_failed"
	ErrSegmentLoadFailed = "segment_load_failed"
	ErrInitrdLoadFailed  = "initrd_load_failed"
)

func newErr(code string, err error) *LoadError { return &LoadError{Code: code, Err: err} }

// KernelInfo describes a loaded kernel image's memory layout.
type KernelInfo struct {
	EntryPoint   uint64
	LoadAddress  uint64
	Size         uint64
	StackPointer *uint64
}

// LoadedImageInfo describes a loaded generic image (initrd).
type LoadedImageInfo struct {
	LoadAddress uint64
	Size        uint64
}

// Format recognizes and loads one kernel image format.
type Format interface {
	Name() string
	Detect(data []byte) bool
	Load(region *memory.Region, data []byte) (KernelInfo, error)
}

// Registry holds every compiled-in kernel format, including optional
// build-tag-gated plug-ins registered via RegisterFormat from their own
// files.
type Registry struct {
	formats []Format
}

var defaultRegistry = &Registry{formats: []Format{elf64Format{}}}

// RegisterFormat adds an optional format plug-in to the default registry.
// Nothing in this repository calls it, so ELF64 is the only format the
// default registry holds.
func RegisterFormat(f Format) {
	defaultRegistry.formats = append(defaultRegistry.formats, f)
}

// LoadKernel decompresses kernelData if its magic bytes indicate gzip, xz
// or lz4 (see decompress), detects its format against the registry, and loads it into
// region.
func LoadKernel(region *memory.Region, kernelData []byte, hintName string) (KernelInfo, error) {
	log := hallog.Logger()
	log.Infof("kernelfmt: loading kernel image (%d bytes)", len(kernelData))

	data, err := decompress(kernelData, hintName)
	if err != nil {
		return KernelInfo{}, newErr(ErrInvalidFormat, err)
	}

	for _, f := range defaultRegistry.formats {
		if f.Detect(data) {
			log.Infof("kernelfmt: detected %s format", f.Name())
			return f.Load(region, data)
		}
	}

	log.Errorf("kernelfmt: unknown or unsupported kernel image format")
	return KernelInfo{}, newErr(ErrUnsupportedFormat, fmt.Errorf("kernel image format not recognized"))
}

// LoadInitrd decompresses initrdData the same way LoadKernel does, then
// allocates a 16-byte-aligned contiguous region sized to the result and
// copies it in. Every failure is reported as ErrInitrdLoadFailed.
func LoadInitrd(region *memory.Region, initrdData []byte, hintName string) (LoadedImageInfo, error) {
	log := hallog.Logger()
	log.Infof("kernelfmt: loading initrd image (%d bytes)", len(initrdData))

	data, err := decompress(initrdData, hintName)
	if err != nil {
		return LoadedImageInfo{}, newErr(ErrInitrdLoadFailed, err)
	}

	addr, dest, err := region.AllocateContiguous(uint64(len(data)))
	if err != nil {
		log.Errorf("kernelfmt: failed to allocate memory for initrd: %v", err)
		return LoadedImageInfo{}, newErr(ErrInitrdLoadFailed, err)
	}
	copy(dest, data)

	log.Infof("kernelfmt: initrd loaded at %#x, size %d bytes", addr, len(data))
	return LoadedImageInfo{LoadAddress: addr, Size: uint64(len(data))}, nil
}

// decompress sniffs gzip/xz/lz4 by magic bytes and decompresses, or
// returns data unchanged if none of those magics is present. A filename
// hint ending in .gz, .xz or .lz4 on data without a matching magic is an
// error rather than being passed through.
func decompress(data []byte, hintName string) ([]byte, error) {
	switch {
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)

	case len(data) >= 6 && bytes.Equal(data[0:6], []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		r, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("xz: %w", err)
		}
		return io.ReadAll(r)

	case len(data) >= 4 && bytes.Equal(data[0:4], []byte{0x04, 0x22, 0x4d, 0x18}):
		r := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(r)

	case strings.HasSuffix(hintName, ".gz"), strings.HasSuffix(hintName, ".xz"), strings.HasSuffix(hintName, ".lz4"):
		return nil, fmt.Errorf("filename %q suggests compression but magic bytes were not recognized", hintName)
	}
	return data, nil
}

// elf64Format is the mandatory kernel format.
type elf64Format struct{}

func (elf64Format) Name() string { return "elf64" }

func (elf64Format) Detect(data []byte) bool {
	return len(data) > 4 && data[0] == 0x7f && data[1] == 'E' && data[2] == 'L' && data[3] == 'F' && data[4] == 2
}

func (elf64Format) Load(region *memory.Region, data []byte) (KernelInfo, error) {
	log := hallog.Logger()

	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return KernelInfo{}, newErr(ErrInvalidFormat, fmt.Errorf("ELF parsing error: %w", err))
	}
	if f.Class != elf.ELFCLASS64 {
		return KernelInfo{}, newErr(ErrInvalidFormat, fmt.Errorf("not a 64-bit ELF file"))
	}
	if f.Type != elf.ET_EXEC {
		log.Warnf("kernelfmt: ELF is not EXEC type (got %s), might be DYN (relocatable); proceeding", f.Type)
	}

	entryPoint := f.Entry
	minLoadAddr := uint64(1<<64 - 1)
	maxLoadAddrPlusSize := uint64(0)

	log.Debugf("kernelfmt: kernel entry point from header: %#x", entryPoint)

	var loadSegments []*elf.Prog
	for _, ph := range f.Progs {
		if ph.Type != elf.PT_LOAD || ph.Memsz == 0 {
			continue
		}
		loadSegments = append(loadSegments, ph)

		if ph.Vaddr < minLoadAddr {
			minLoadAddr = ph.Vaddr
		}
		if ph.Vaddr+ph.Memsz > maxLoadAddrPlusSize {
			maxLoadAddrPlusSize = ph.Vaddr + ph.Memsz
		}
	}

	if len(loadSegments) == 0 {
		return KernelInfo{}, newErr(ErrInvalidFormat, fmt.Errorf("ELF file has no loadable segments"))
	}

	kernelBase := minLoadAddr
	kernelSize := maxLoadAddrPlusSize - minLoadAddr

	_, dest, err := region.Allocate(kernelSize, 4096)
	if err != nil {
		return KernelInfo{}, newErr(ErrMemoryAllocFailed, err)
	}

	for _, ph := range loadSegments {
		segOff := ph.Vaddr - kernelBase
		segmentFileSize := ph.Filesz
		segmentMemSize := ph.Memsz

		log.Infof("kernelfmt: LOAD segment vaddr=%#010x filesize=%#x memsize=%#x offset=%#x",
			ph.Vaddr, segmentFileSize, segmentMemSize, ph.Off)

		if segOff+segmentMemSize > uint64(len(dest)) {
			return KernelInfo{}, newErr(ErrSegmentLoadFailed, fmt.Errorf("segment extends past allocated region"))
		}
		segDest := dest[segOff : segOff+segmentMemSize]

		if segmentFileSize > 0 {
			if ph.Off+segmentFileSize > uint64(len(data)) {
				return KernelInfo{}, newErr(ErrSegmentLoadFailed, fmt.Errorf("segment data out of bounds in ELF file"))
			}
			copy(segDest[:segmentFileSize], data[ph.Off:ph.Off+segmentFileSize])
		}
		if segmentMemSize > segmentFileSize {
			for i := segmentFileSize; i < segmentMemSize; i++ {
				segDest[i] = 0
			}
		}
	}

	log.Infof("kernelfmt: kernel loaded: base=%#x size=%#x (%.2f MiB)",
		kernelBase, kernelSize, float64(kernelSize)/(1024*1024))

	// LoadAddress and EntryPoint are reported as the ELF's own vaddr/entry,
	// not the backing buffer's address: region.Allocate above exists only
	// to reserve and zero simulated storage for the copied segment bytes,
	// since this package has no access to real physical memory at the
	// kernel's link address. The reported addresses are what a real
	// loader's arch handoff would use.
	return KernelInfo{
		EntryPoint:  entryPoint,
		LoadAddress: kernelBase,
		Size:        kernelSize,
	}, nil
}
