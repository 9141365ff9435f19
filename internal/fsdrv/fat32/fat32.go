// Package fat32 implements the reference filesystem driver: a read-only
// FAT32 reader adapted from a disk-image inspection tool's raw FAT walker,
// tightened to accept only the FAT32 variant per the boot loader's single
// mandatory filesystem driver requirement.
package fat32

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/lionxlover/lblcore/internal/fs"
)

// Driver implements fs.Driver for FAT32 volumes.
type Driver struct{}

// New returns a FAT32 driver instance.
func New() *Driver { return &Driver{} }

func (d *Driver) Name() string { return "fat32" }

// fat32TypeTag is the offset-82 filesystem-type string FAT32 volumes carry
// (padded with spaces to 8 bytes), distinct from FAT12/16's offset-54 tag.
const fat32TypeTag = "FAT32   "

// Detect applies the canonical FAT32 BPB discriminant: boot-sector
// signature present, the offset-82 "FAT32   " type tag, bytes-per-sector
// one of the four sizes the format allows, sectors-per-cluster a power of
// two up to 128, and rootEntCnt == 0 && fatSz16 == 0 && fatSz32 != 0. Any
// other combination (FAT12/16, or a corrupt sector) is rejected so a later
// driver in the mount manager's list gets a chance instead.
func (d *Driver) Detect(dev fs.BlockDevice) bool {
	bs := make([]byte, 512)
	if _, err := dev.ReadAt(bs, 0); err != nil && err != io.EOF {
		return false
	}
	if bs[510] != 0x55 || bs[511] != 0xAA {
		return false
	}
	if string(bs[82:90]) != fat32TypeTag {
		return false
	}

	bytsPerSec := binary.LittleEndian.Uint16(bs[11:13])
	secPerClus := bs[13]
	rsvdSecCnt := binary.LittleEndian.Uint16(bs[14:16])
	numFATs := bs[16]
	rootEntCnt := binary.LittleEndian.Uint16(bs[17:19])
	fatSz16 := binary.LittleEndian.Uint16(bs[22:24])
	fatSz32 := binary.LittleEndian.Uint32(bs[36:40])

	switch bytsPerSec {
	case 512, 1024, 2048, 4096:
	default:
		return false
	}
	if secPerClus == 0 || secPerClus > 128 || secPerClus&(secPerClus-1) != 0 {
		return false
	}
	if rsvdSecCnt == 0 || numFATs == 0 {
		return false
	}
	return rootEntCnt == 0 && fatSz16 == 0 && fatSz32 != 0
}

// Mount parses the BPB and returns a read-only Instance; the FSInfo sector
// is not read. Mount assumes Detect has already returned true for dev.
func (d *Driver) Mount(dev fs.BlockDevice) (fs.Instance, error) {
	v, err := open(dev)
	if err != nil {
		return nil, fs.NewError(fs.ErrCorrupt, err)
	}
	return v, nil
}

// volume is a mounted FAT32 filesystem.
type volume struct {
	dev fs.BlockDevice

	bytsPerSec uint16
	secPerClus uint8
	rootClus   uint32

	fatStart    int64
	dataStart   int64
	clusterSize uint32

	label string
}

func open(dev fs.BlockDevice) (*volume, error) {
	bs := make([]byte, 512)
	if _, err := dev.ReadAt(bs, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read boot sector: %w", err)
	}
	if bs[510] != 0x55 || bs[511] != 0xAA {
		return nil, fmt.Errorf("invalid boot sector signature")
	}

	v := &volume{dev: dev}
	v.bytsPerSec = binary.LittleEndian.Uint16(bs[11:13])
	v.secPerClus = bs[13]
	rsvdSecCnt := binary.LittleEndian.Uint16(bs[14:16])
	numFATs := bs[16]
	rootEntCnt := binary.LittleEndian.Uint16(bs[17:19])
	fatSz16 := binary.LittleEndian.Uint16(bs[22:24])
	fatSz32 := binary.LittleEndian.Uint32(bs[36:40])
	v.rootClus = binary.LittleEndian.Uint32(bs[44:48])

	if v.bytsPerSec == 0 || v.secPerClus == 0 || rsvdSecCnt == 0 || numFATs == 0 {
		return nil, fmt.Errorf("invalid BPB fields")
	}
	if !(rootEntCnt == 0 && fatSz16 == 0 && fatSz32 != 0) {
		return nil, fmt.Errorf("not a FAT32 volume")
	}

	v.clusterSize = uint32(v.bytsPerSec) * uint32(v.secPerClus)
	v.fatStart = int64(rsvdSecCnt) * int64(v.bytsPerSec)
	v.dataStart = v.fatStart + int64(numFATs)*int64(fatSz32)*int64(v.bytsPerSec)

	// Volume label: bytes 71-81 of the BPB (extended boot signature region).
	// The root directory's volume-label entry is not consulted.
	v.label = strings.TrimRight(string(bs[71:82]), " ")

	return v, nil
}

func (v *volume) Label() string { return v.label }

// dirEntry is a single parsed directory entry.
type dirEntry struct {
	name         string
	isDir        bool
	firstCluster uint32
	size         uint32
}

func (v *volume) ReadFile(path string) ([]byte, error) {
	if err := fs.ValidatePath(path); err != nil {
		return nil, err
	}
	e, err := v.findPath(path)
	if err != nil {
		return nil, err
	}
	if e.isDir {
		return nil, fs.NewError(fs.ErrIsADirectory, fmt.Errorf("%s is a directory", path))
	}
	return v.readFileByEntry(e)
}

func (v *volume) Open(path string) (io.ReadCloser, error) {
	data, err := v.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (v *volume) ListDirectory(path string) ([]fs.DirEntry, error) {
	if err := fs.ValidatePath(path); err != nil {
		return nil, err
	}

	var ents []dirEntry
	var err error
	if path == "/" {
		ents, err = v.readDirFromCluster(v.rootClus)
	} else {
		e, ferr := v.findPath(path)
		if ferr != nil {
			return nil, ferr
		}
		if !e.isDir {
			return nil, fs.NewError(fs.ErrNotADirectory, fmt.Errorf("%s is not a directory", path))
		}
		ents, err = v.readDirFromCluster(e.firstCluster)
	}
	if err != nil {
		return nil, fs.NewError(fs.ErrIO, err)
	}

	out := make([]fs.DirEntry, 0, len(ents))
	for _, e := range ents {
		out = append(out, fs.DirEntry{Name: e.name, IsDir: e.isDir, Size: int64(e.size)})
	}
	return out, nil
}

func (v *volume) findPath(path string) (*dirEntry, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 1 && parts[0] == "" {
		return &dirEntry{name: "/", isDir: true, firstCluster: v.rootClus}, nil
	}

	ents, err := v.readDirFromCluster(v.rootClus)
	if err != nil {
		return nil, fs.NewError(fs.ErrIO, err)
	}

	var match *dirEntry
	for i, part := range parts {
		match = nil
		for _, e := range ents {
			if strings.EqualFold(e.name, part) {
				tmp := e
				match = &tmp
				break
			}
		}
		if match == nil {
			return nil, fs.NewError(fs.ErrNotFound, fmt.Errorf("%s: no such file or directory", path))
		}
		if i == len(parts)-1 {
			return match, nil
		}
		if !match.isDir {
			return nil, fs.NewError(fs.ErrNotADirectory, fmt.Errorf("%s: not a directory", part))
		}
		ents, err = v.readDirFromCluster(match.firstCluster)
		if err != nil {
			return nil, fs.NewError(fs.ErrIO, err)
		}
	}
	return nil, fs.NewError(fs.ErrNotFound, fmt.Errorf("%s: no such file or directory", path))
}

func (v *volume) readFileByEntry(e *dirEntry) ([]byte, error) {
	remaining := int64(e.size)
	out := make([]byte, 0, remaining)

	c := e.firstCluster
	seen := map[uint32]bool{}

	for c >= 2 && !isEOC(c) && remaining > 0 {
		if seen[c] {
			return nil, fs.NewError(fs.ErrCorrupt, fmt.Errorf("cluster chain loop at cluster %d", c))
		}
		seen[c] = true

		chunk := make([]byte, v.clusterSize)
		if _, err := v.dev.ReadAt(chunk, v.clusterOff(c)); err != nil && err != io.EOF {
			return nil, fs.NewError(fs.ErrIO, err)
		}

		n := int64(len(chunk))
		if remaining < n {
			n = remaining
		}
		out = append(out, chunk[:n]...)
		remaining -= n

		next, err := v.fatEntry(c)
		if err != nil {
			return nil, fs.NewError(fs.ErrIO, err)
		}
		c = next
	}

	return out, nil
}

func (v *volume) readDirFromCluster(start uint32) ([]dirEntry, error) {
	var all []byte
	c := start
	seen := map[uint32]bool{}

	for c >= 2 && !isEOC(c) {
		if seen[c] {
			return nil, fmt.Errorf("cluster chain loop at cluster %d", c)
		}
		seen[c] = true

		chunk := make([]byte, v.clusterSize)
		if _, err := v.dev.ReadAt(chunk, v.clusterOff(c)); err != nil && err != io.EOF {
			return nil, err
		}
		all = append(all, chunk...)

		next, err := v.fatEntry(c)
		if err != nil {
			return nil, err
		}
		c = next
	}

	return parseDirEntries(all), nil
}

func parseDirEntries(buf []byte) []dirEntry {
	var out []dirEntry
	var lfnParts []string

	for off := 0; off+32 <= len(buf); off += 32 {
		e := buf[off : off+32]
		if e[0] == 0x00 {
			break
		}
		if e[0] == 0xE5 {
			lfnParts = nil
			continue
		}

		attr := e[11]
		if attr == 0x0F {
			if part := decodeLFNPart(e); part != "" {
				lfnParts = append(lfnParts, part)
			}
			continue
		}
		if attr&0x08 != 0 {
			lfnParts = nil
			continue
		}

		name := ""
		if len(lfnParts) > 0 {
			for i, j := 0, len(lfnParts)-1; i < j; i, j = i+1, j-1 {
				lfnParts[i], lfnParts[j] = lfnParts[j], lfnParts[i]
			}
			name = strings.Join(lfnParts, "")
		} else {
			name = decode83Name(e[0:11])
		}
		lfnParts = nil

		if name == "." || name == ".." {
			continue
		}

		clusHi := binary.LittleEndian.Uint16(e[20:22])
		clusLo := binary.LittleEndian.Uint16(e[26:28])
		out = append(out, dirEntry{
			name:         name,
			isDir:        attr&0x10 != 0,
			firstCluster: (uint32(clusHi) << 16) | uint32(clusLo),
			size:         binary.LittleEndian.Uint32(e[28:32]),
		})
	}

	return out
}

func decode83Name(b []byte) string {
	base := strings.TrimRight(string(b[0:8]), " ")
	ext := strings.TrimRight(string(b[8:11]), " ")
	if ext != "" {
		return base + "." + ext
	}
	return base
}

func decodeLFNPart(e []byte) string {
	readU16 := func(i int) uint16 { return binary.LittleEndian.Uint16(e[i : i+2]) }

	chars := make([]uint16, 0, 13)
	for _, i := range []int{1, 3, 5, 7, 9} {
		chars = append(chars, readU16(i))
	}
	for _, i := range []int{14, 16, 18, 20, 22, 24} {
		chars = append(chars, readU16(i))
	}
	for _, i := range []int{28, 30} {
		chars = append(chars, readU16(i))
	}

	var sb strings.Builder
	for _, c := range chars {
		if c == 0x0000 || c == 0xFFFF {
			break
		}
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

func isEOC(c uint32) bool { return c >= 0x0FFFFFF8 }

func (v *volume) clusterOff(cluster uint32) int64 {
	if cluster < 2 {
		return v.dataStart
	}
	return v.dataStart + int64(cluster-2)*int64(v.clusterSize)
}

func (v *volume) fatEntry(cluster uint32) (uint32, error) {
	off := v.fatStart + int64(cluster)*4
	b := make([]byte, 4)
	if _, err := v.dev.ReadAt(b, off); err != nil && err != io.EOF {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b) & 0x0FFFFFFF, nil
}
