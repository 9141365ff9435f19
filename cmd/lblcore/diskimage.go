package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"

	"github.com/lionxlover/lblcore/internal/fs"
	"github.com/lionxlover/lblcore/internal/fsdrv/fat32"
)

// partitionExtent is a byte-offset view of one partition table entry,
// independent of whether the backing table was GPT or MBR.
type partitionExtent struct {
	Index    int
	Name     string
	TypeDesc string
	Start    int64 // byte offset from the start of the image
	Size     int64 // bytes
}

// listPartitions opens imagePath's partition table via diskfs (GPT or MBR)
// and returns each partition's byte extent. diskfs is used only for table
// parsing here — file content is always read back through the engine's own
// fs.Instance implementations, never diskfs's filesystem package, so the
// mount manager under test is lblcore's own, not diskfs's.
func listPartitions(imagePath string) ([]partitionExtent, error) {
	disk, err := diskfs.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("open disk image: %w", err)
	}
	defer disk.Close()

	pt, err := disk.GetPartitionTable()
	if err != nil {
		return nil, fmt.Errorf("read partition table: %w", err)
	}

	sectorSize := disk.LogicalBlocksize
	var extents []partitionExtent

	switch t := pt.(type) {
	case *gpt.Table:
		for i, p := range t.Partitions {
			if p.Start == 0 && p.End == 0 {
				continue
			}
			extents = append(extents, partitionExtent{
				Index:    i + 1,
				Name:     p.Name,
				TypeDesc: string(p.Type),
				Start:    int64(p.Start) * sectorSize,
				Size:     int64(p.End-p.Start+1) * sectorSize,
			})
		}
	case *mbr.Table:
		for i, p := range t.Partitions {
			if p.Size == 0 {
				continue
			}
			extents = append(extents, partitionExtent{
				Index:    i + 1,
				TypeDesc: fmt.Sprintf("0x%02x", p.Type),
				Start:    int64(p.Start) * sectorSize,
				Size:     int64(p.Size) * sectorSize,
			})
		}
	default:
		return nil, fmt.Errorf("unsupported partition table type %T", t)
	}

	return extents, nil
}

// offsetDevice is an fs.BlockDevice over a byte-range of an already-open
// *os.File, used to present one partition of a raw disk image to the
// engine's own filesystem drivers.
type offsetDevice struct {
	f          *os.File
	start      int64
	size       int64
	sectorSize int
}

func (d *offsetDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= d.size {
		return 0, fmt.Errorf("offsetDevice: read at %d out of range (size %d)", off, d.size)
	}
	return d.f.ReadAt(p, d.start+off)
}

func (d *offsetDevice) SectorSize() int    { return d.sectorSize }
func (d *offsetDevice) SectorCount() int64 { return d.size / int64(d.sectorSize) }

// mountPartition opens imagePath, locates the partition at 1-based index
// partIndex (0 selects the first partition the registered drivers
// recognize), and mounts it through mgr. The caller owns closing the
// returned file once done with the volume.
func mountPartition(mgr *fs.Manager, imagePath string, partIndex int) (fs.VolumeID, *os.File, error) {
	extents, err := listPartitions(imagePath)
	if err != nil {
		return "", nil, err
	}
	if len(extents) == 0 {
		return "", nil, fmt.Errorf("no partitions found in %s", imagePath)
	}

	f, err := os.Open(imagePath)
	if err != nil {
		return "", nil, fmt.Errorf("open image file: %w", err)
	}

	mgr.Register(fat32.New())

	try := func(ext partitionExtent) (fs.VolumeID, error) {
		dev := &offsetDevice{f: f, start: ext.Start, size: ext.Size, sectorSize: 512}
		return mgr.Mount(deviceLabel(imagePath, ext), dev)
	}

	if partIndex > 0 {
		for _, ext := range extents {
			if ext.Index == partIndex {
				id, err := try(ext)
				if err != nil {
					f.Close()
					return "", nil, err
				}
				return id, f, nil
			}
		}
		f.Close()
		return "", nil, fmt.Errorf("no partition with index %d", partIndex)
	}

	var lastErr error
	for _, ext := range extents {
		id, err := try(ext)
		if err == nil {
			return id, f, nil
		}
		lastErr = err
	}
	f.Close()
	return "", nil, fmt.Errorf("no partition recognized by a registered driver: %w", lastErr)
}

// mountAllPartitions opens imagePath and mounts every partition a
// registered driver recognizes, skipping the rest. Used by the boot
// command, which (like the real engine) needs every mounted volume
// available for resolveVolume's fallback search, not just one.
func mountAllPartitions(mgr *fs.Manager, imagePath string) (*os.File, int, error) {
	extents, err := listPartitions(imagePath)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(imagePath)
	if err != nil {
		return nil, 0, fmt.Errorf("open image file: %w", err)
	}

	mgr.Register(fat32.New())

	mounted := 0
	for _, ext := range extents {
		dev := &offsetDevice{f: f, start: ext.Start, size: ext.Size, sectorSize: 512}
		if _, err := mgr.Mount(deviceLabel(imagePath, ext), dev); err == nil {
			mounted++
		}
	}
	return f, mounted, nil
}

func deviceLabel(imagePath string, ext partitionExtent) string {
	base := imagePath
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	return fmt.Sprintf("%s-p%d", base, ext.Index)
}
