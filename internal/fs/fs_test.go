package fs

import (
	"io"
	"testing"
)

type fakeBlockDevice struct {
	data       []byte
	sectorSize int
}

func (f *fakeBlockDevice) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	return n, nil
}

func (f *fakeBlockDevice) SectorSize() int { return f.sectorSize }

func (f *fakeBlockDevice) SectorCount() int64 {
	return int64(len(f.data)) / int64(f.sectorSize)
}

type fakeInstance struct{ label string }

func (f *fakeInstance) Label() string                             { return f.label }
func (f *fakeInstance) ReadFile(path string) ([]byte, error)       { return []byte("contents"), nil }
func (f *fakeInstance) Open(path string) (io.ReadCloser, error)    { return nil, nil }
func (f *fakeInstance) ListDirectory(path string) ([]DirEntry, error) {
	return []DirEntry{{Name: "a.txt", Size: 8}}, nil
}

type fakeDriver struct {
	name    string
	claims  bool
	failure error
}

func (d *fakeDriver) Name() string             { return d.name }
func (d *fakeDriver) Detect(dev BlockDevice) bool { return d.claims }
func (d *fakeDriver) Mount(dev BlockDevice) (Instance, error) {
	if d.failure != nil {
		return nil, d.failure
	}
	return &fakeInstance{label: "TESTVOL"}, nil
}

func TestManager_MountTriesDriversInOrder(t *testing.T) {
	m := NewManager()
	m.Register(&fakeDriver{name: "ext4", claims: false})
	m.Register(&fakeDriver{name: "fat32", claims: true})
	m.Register(&fakeDriver{name: "never-reached", claims: true})

	dev := &fakeBlockDevice{data: make([]byte, 4096), sectorSize: 512}
	id, err := m.Mount("disk0", dev)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if id != "vol-0-disk0-fat32" {
		t.Errorf("volume id = %q, want vol-0-disk0-fat32", id)
	}

	inst, err := m.Volume(id)
	if err != nil {
		t.Fatalf("Volume: %v", err)
	}
	if inst.Label() != "TESTVOL" {
		t.Errorf("Label() = %q, want TESTVOL", inst.Label())
	}
}

func TestManager_MountUnsupportedWhenNoDriverClaims(t *testing.T) {
	m := NewManager()
	m.Register(&fakeDriver{name: "ext4", claims: false})

	dev := &fakeBlockDevice{data: make([]byte, 4096), sectorSize: 512}
	_, err := m.Mount("disk0", dev)
	if err == nil {
		t.Fatal("Mount() error = nil, want unsupported error")
	}
	fsErr, ok := err.(*FsError)
	if !ok || fsErr.Code != ErrUnsupported {
		t.Errorf("err = %v, want FsError{Code: ErrUnsupported}", err)
	}
}

func TestManager_UnmountRemovesVolume(t *testing.T) {
	m := NewManager()
	m.Register(&fakeDriver{name: "fat32", claims: true})

	dev := &fakeBlockDevice{data: make([]byte, 4096), sectorSize: 512}
	id, err := m.Mount("disk0", dev)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	m.Unmount(id)
	if _, err := m.Volume(id); err == nil {
		t.Fatal("Volume() after Unmount: error = nil, want not_found")
	}
}

// filesInstance serves a fixed set of files, returning ErrNotFound for
// anything else, so tests can tell which mounted volume actually answered.
type filesInstance struct {
	label string
	files map[string][]byte
}

func (f *filesInstance) Label() string { return f.label }
func (f *filesInstance) ReadFile(path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, newErr(ErrNotFound, nil)
	}
	return data, nil
}
func (f *filesInstance) Open(path string) (io.ReadCloser, error)      { return nil, nil }
func (f *filesInstance) ListDirectory(path string) ([]DirEntry, error) { return nil, nil }

// findFile walks m.Volumes() in order and returns the first volume serving path.
func findFile(m *Manager, path string) (VolumeID, error) {
	for _, id := range m.Volumes() {
		inst, err := m.Volume(id)
		if err != nil {
			continue
		}
		if _, err := inst.ReadFile(path); err == nil {
			return id, nil
		}
	}
	return "", newErr(ErrNotFound, nil)
}

func TestManager_VolumesReturnsMountOrder(t *testing.T) {
	m := NewManager()

	v1 := m.MountInstance("disk0", "v1fs", &filesInstance{label: "V1", files: map[string][]byte{}})
	v2 := m.MountInstance("disk1", "v2fs", &filesInstance{label: "V2", files: map[string][]byte{
		"/only-on-v2.txt": []byte("hello"),
	}})

	ids := m.Volumes()
	if len(ids) != 2 || ids[0] != v1 || ids[1] != v2 {
		t.Fatalf("Volumes() = %v, want [%s %s] in mount order", ids, v1, v2)
	}

	found, err := findFile(m, "/only-on-v2.txt")
	if err != nil {
		t.Fatalf("findFile: %v", err)
	}
	if found != v2 {
		t.Errorf("findFile (v1 then v2 mounted) found %s, want %s", found, v2)
	}

	m.Unmount(v1)
	m.Unmount(v2)

	newV2 := m.MountInstance("disk2", "v2fs", &filesInstance{label: "V2", files: map[string][]byte{
		"/only-on-v2.txt": []byte("hello"),
	}})
	newV1 := m.MountInstance("disk3", "v1fs", &filesInstance{label: "V1", files: map[string][]byte{}})

	ids = m.Volumes()
	if len(ids) != 2 || ids[0] != newV2 || ids[1] != newV1 {
		t.Fatalf("Volumes() after reversed mount order = %v, want [%s %s]", ids, newV2, newV1)
	}

	found, err = findFile(m, "/only-on-v2.txt")
	if err != nil {
		t.Fatalf("findFile: %v", err)
	}
	if found != newV2 {
		t.Errorf("findFile (v2 then v1 mounted) found %s, want %s", found, newV2)
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"/boot/vmlinuz", false},
		{"/", false},
		{"relative/path", true},
		{"/boot/../etc/passwd", true},
		{"/./boot", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}
