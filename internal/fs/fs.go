// Package fs implements the pluggable filesystem driver and mount manager:
// drivers register themselves, the Manager probes each device against the
// drivers in registration order and mounts it with the first driver that
// claims it and mounts it successfully, and
// callers address files through a volume id plus an absolute path.
package fs

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/lionxlover/lblcore/internal/hallog"
)

// FsError is the sentinel error taxonomy every driver and the Manager return.
type FsError struct {
	Code string
	Err  error
}

func (e *FsError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fs: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("fs: %s", e.Code)
}

func (e *FsError) Unwrap() error { return e.Err }

// Sentinel FsError codes, per spec.md §4.3.
const (
	ErrUnsupported   = "unsupported"
	ErrNotFound      = "not_found"
	ErrNotADirectory = "not_a_directory"
	ErrIsADirectory  = "is_a_directory"
	ErrInvalidPath   = "invalid_path"
	ErrIO            = "io_error"
	ErrCorrupt       = "corrupt_filesystem"
)

func newErr(code string, err error) *FsError { return &FsError{Code: code, Err: err} }

// NewError builds an FsError, exported so filesystem drivers outside this
// package (e.g. fsdrv/fat32) can report through the same taxonomy.
func NewError(code string, err error) *FsError { return newErr(code, err) }

// BlockDevice is the minimal abstraction a filesystem driver needs over a
// storage volume: random-access reads of fixed-size sectors.
type BlockDevice interface {
	ReadAt(p []byte, off int64) (int, error)
	SectorSize() int
	SectorCount() int64
}

// DirEntry is a single entry returned by ListDirectory.
type DirEntry struct {
	Name  string
	IsDir bool
	Size  int64
}

// Instance is a mounted filesystem volume.
type Instance interface {
	// Label is the filesystem's on-disk volume label, if any.
	Label() string
	// ReadFile returns the full contents of path, which must be absolute
	// and must not contain "." or ".." components.
	ReadFile(path string) ([]byte, error)
	// Open returns a stream for path, for callers that want to avoid
	// buffering large files (e.g. kernel images) fully into memory.
	Open(path string) (io.ReadCloser, error)
	// ListDirectory returns the immediate children of path.
	ListDirectory(path string) ([]DirEntry, error)
}

// Driver recognizes and mounts a particular on-disk filesystem format.
type Driver interface {
	// Name identifies the driver, e.g. "fat32".
	Name() string
	// Detect reports whether dev's superblock matches this driver's format.
	// It must not mutate dev and must return quickly.
	Detect(dev BlockDevice) bool
	// Mount opens dev for file access. Mount may only be called after
	// Detect has returned true for dev.
	Mount(dev BlockDevice) (Instance, error)
}

// VolumeID identifies a mounted volume, formatted as
// "vol-<n>-<device>-<fstype>" to match the original loader's scheme.
type VolumeID string

// mountedVolume pairs a mounted Instance with the driver that mounted it.
type mountedVolume struct {
	id     VolumeID
	driver string
	inst   Instance
}

// Manager owns the registered driver list and the live mount table.
type Manager struct {
	mu      sync.RWMutex
	drivers []Driver
	volumes map[VolumeID]*mountedVolume
	order   []VolumeID // mount order, since map iteration order is not stable
	nextIdx int
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{volumes: make(map[VolumeID]*mountedVolume)}
}

// Register adds a driver. Drivers are tried in registration order when
// mounting a device, matching the original loader's deterministic
// try-each-driver-in-turn behavior.
func (m *Manager) Register(d Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers = append(m.drivers, d)
}

// Mount probes dev against every registered driver in order and mounts with
// the first one that claims it and mounts it successfully; a driver whose
// Mount fails is logged and the next driver is tried. If no driver mounts
// dev, Mount returns ErrUnsupported. deviceName is used only to build the
// volume id and for logging.
func (m *Manager) Mount(deviceName string, dev BlockDevice) (VolumeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := hallog.Logger()

	var lastErr error
	for _, d := range m.drivers {
		if !d.Detect(dev) {
			continue
		}
		inst, err := d.Mount(dev)
		if err != nil {
			log.Warnf("fs: driver %q claimed %q but mount failed: %v", d.Name(), deviceName, err)
			lastErr = err
			continue
		}

		id := VolumeID(fmt.Sprintf("vol-%d-%s-%s", m.nextIdx, deviceName, d.Name()))
		m.nextIdx++
		m.volumes[id] = &mountedVolume{id: id, driver: d.Name(), inst: inst}
		m.order = append(m.order, id)

		log.Infof("fs: mounted %s as %s via %s driver", deviceName, id, d.Name())
		return id, nil
	}

	if lastErr != nil {
		return "", newErr(ErrUnsupported, fmt.Errorf("no driver could mount device %q: %w", deviceName, lastErr))
	}
	return "", newErr(ErrUnsupported, fmt.Errorf("no driver recognized device %q", deviceName))
}

// MountInstance registers an already-constructed Instance directly, bypassing
// driver detection. This is how non-block-device sources (e.g. internal/netboot's
// HTTP-backed volume) join the same volume table ordinary mounted filesystems
// do, so callers throughout the engine never need to special-case them.
func (m *Manager) MountInstance(deviceName, driverName string, inst Instance) VolumeID {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := VolumeID(fmt.Sprintf("vol-%d-%s-%s", m.nextIdx, deviceName, driverName))
	m.nextIdx++
	m.volumes[id] = &mountedVolume{id: id, driver: driverName, inst: inst}
	m.order = append(m.order, id)

	hallog.Logger().Infof("fs: attached %s as %s via %s", deviceName, id, driverName)
	return id
}

// Unmount removes a volume from the mount table. It is a no-op if the
// volume id is unknown.
func (m *Manager) Unmount(id VolumeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.volumes, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Volume returns the mounted Instance for id.
func (m *Manager) Volume(id VolumeID) (Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.volumes[id]
	if !ok {
		return nil, newErr(ErrNotFound, fmt.Errorf("unknown volume %q", id))
	}
	return v.inst, nil
}

// Volumes lists every currently mounted volume id, in mount order.
func (m *Manager) Volumes() []VolumeID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]VolumeID, len(m.order))
	copy(ids, m.order)
	return ids
}

// ValidatePath rejects any path that is not absolute or that contains a
// "." or ".." component. Empty segments (as in "/a//b") are accepted.
func ValidatePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return newErr(ErrInvalidPath, fmt.Errorf("path %q is not absolute", path))
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "." || seg == ".." {
			return newErr(ErrInvalidPath, fmt.Errorf("path %q contains a %q component", path, seg))
		}
	}
	return nil
}
