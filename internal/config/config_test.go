package config

import (
	"io"
	"testing"

	"github.com/lionxlover/lblcore/internal/fs"
)

// memVolume is a minimal fs.Instance backed by an in-memory file map, used
// to drive config.Load without a real filesystem driver.
type memVolume struct {
	files map[string][]byte
}

func (v *memVolume) Label() string { return "MEM" }
func (v *memVolume) ReadFile(path string) ([]byte, error) {
	b, ok := v.files[path]
	if !ok {
		return nil, fs.NewError(fs.ErrNotFound, nil)
	}
	return b, nil
}
func (v *memVolume) Open(path string) (io.ReadCloser, error) { return nil, nil }
func (v *memVolume) ListDirectory(path string) ([]fs.DirEntry, error) { return nil, nil }

type memDriver struct{ files map[string][]byte }

func (d *memDriver) Name() string                  { return "mem" }
func (d *memDriver) Detect(dev fs.BlockDevice) bool { return true }
func (d *memDriver) Mount(dev fs.BlockDevice) (fs.Instance, error) {
	return &memVolume{files: d.files}, nil
}

type nullDevice struct{}

func (nullDevice) ReadAt(p []byte, off int64) (int, error) { return 0, io.EOF }
func (nullDevice) SectorSize() int                         { return 512 }
func (nullDevice) SectorCount() int64                      { return 0 }

func mountWithConfig(t *testing.T, configJSON string) *fs.Manager {
	t.Helper()
	mgr := fs.NewManager()
	mgr.Register(&memDriver{files: map[string][]byte{
		"/LBL/config.json": []byte(configJSON),
	}})
	if _, err := mgr.Mount("disk0", nullDevice{}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return mgr
}

const minimalValidConfig = `{
  "entries": [
    {"id": "linux", "title": "Linux", "type": "kernel_direct", "kernel_path": "/boot/vmlinuz"}
  ]
}`

func TestLoad_AppliesDefaults(t *testing.T) {
	mgr := mountWithConfig(t, minimalValidConfig)

	cfg, err := Load(mgr)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TimeoutMs != 5000 {
		t.Errorf("TimeoutMs = %d, want 5000", cfg.TimeoutMs)
	}
	if cfg.Advanced.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.Advanced.LogLevel)
	}
	if !cfg.Advanced.Countdown {
		t.Error("Countdown = false, want true (default)")
	}
	if !cfg.Advanced.EnableMouse {
		t.Error("EnableMouse = false, want true (default)")
	}
}

func TestLoad_NoVolumesMounted(t *testing.T) {
	mgr := fs.NewManager()
	_, err := Load(mgr)
	cfgErr, ok := err.(*ConfigError)
	if !ok || cfgErr.Kind != ErrNoVolumesMounted {
		t.Fatalf("err = %v, want ConfigError{Kind: ErrNoVolumesMounted}", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	mgr := fs.NewManager()
	mgr.Register(&memDriver{files: map[string][]byte{}})
	if _, err := mgr.Mount("disk0", nullDevice{}); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	_, err := Load(mgr)
	cfgErr, ok := err.(*ConfigError)
	if !ok || cfgErr.Kind != ErrFileNotFound {
		t.Fatalf("err = %v, want ConfigError{Kind: ErrFileNotFound}", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LblConfig
		wantErr string
	}{
		{
			name:    "empty entries",
			cfg:     LblConfig{},
			wantErr: ErrValidation,
		},
		{
			name: "duplicate ids",
			cfg: LblConfig{Entries: []BootEntry{
				{ID: "a", Type: EntryInternalTool},
				{ID: "a", Type: EntryInternalTool},
			}},
			wantErr: ErrLogic,
		},
		{
			name: "kernel_direct missing kernel_path",
			cfg: LblConfig{Entries: []BootEntry{
				{ID: "a", Type: EntryKernelDirect},
			}},
			wantErr: ErrValidation,
		},
		{
			name: "default_entry does not resolve",
			cfg: LblConfig{
				Entries:  []BootEntry{{ID: "a", Type: EntryInternalTool}},
				Advanced: AdvancedSettings{DefaultEntry: "missing"},
			},
			wantErr: ErrLogic,
		},
		{
			name: "bad color",
			cfg: LblConfig{
				Entries: []BootEntry{{ID: "a", Type: EntryInternalTool}},
				Theme:   Theme{Background: "not-a-color"},
			},
			wantErr: ErrValidation,
		},
		{
			name: "valid",
			cfg: LblConfig{
				Entries: []BootEntry{{ID: "a", Type: EntryKernelDirect, KernelPath: "/k"}},
				Theme:   Theme{Background: "#112233", Accent: "#11223344"},
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			cfgErr, ok := err.(*ConfigError)
			if !ok || cfgErr.Kind != tt.wantErr {
				t.Fatalf("Validate() = %v, want Kind=%s", err, tt.wantErr)
			}
		})
	}
}

func TestLblConfig_DefaultEntry(t *testing.T) {
	cfg := LblConfig{
		Entries: []BootEntry{
			{ID: "a", Order: 2},
			{ID: "b", Order: 1},
		},
	}

	if got := cfg.DefaultEntry(); got.ID != "b" {
		t.Errorf("DefaultEntry() (no explicit default) = %q, want b (lowest order)", got.ID)
	}

	cfg.Advanced.DefaultEntry = "a"
	if got := cfg.DefaultEntry(); got.ID != "a" {
		t.Errorf("DefaultEntry() (explicit) = %q, want a", got.ID)
	}
}
