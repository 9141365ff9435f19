// Package config implements the declarative boot configuration loader and
// validator: it searches mounted volumes for a config document in a fixed
// path order, decodes it, applies defaulting rules, and runs a two-phase
// validation (JSON Schema structural check, then semantic checks).
package config

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lionxlover/lblcore/internal/fs"
	"github.com/lionxlover/lblcore/internal/hallog"
)

//go:embed schema/lblconfig.schema.json
var schemaFS embed.FS

const schemaResourceName = "lblconfig.schema.json"

// SearchPaths is the ordered list of config locations tried on every
// mounted volume, per spec.md §4.5.
var SearchPaths = []string{
	"/LBL/config.json",
	"/boot/lbl/config.json",
	"/config.json",
}

// ConfigError is the sentinel error taxonomy for this package.
type ConfigError struct {
	Kind   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("config: %s: %s", e.Kind, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("config: %s", e.Kind)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ConfigError kinds, per spec.md §4.5.
const (
	ErrFileNotFound     = "file_not_found"
	ErrNoVolumesMounted = "no_volumes_mounted"
	ErrRead             = "read"
	ErrInvalidFormat    = "invalid_format"
	ErrValidation       = "validation"
	ErrLogic            = "logic"
	ErrFilesystem       = "filesystem"
)

func invalidFormat(reason string) *ConfigError { return &ConfigError{Kind: ErrInvalidFormat, Reason: reason} }
func validationErr(reason string) *ConfigError { return &ConfigError{Kind: ErrValidation, Reason: reason} }
func logicErr(reason string) *ConfigError      { return &ConfigError{Kind: ErrLogic, Reason: reason} }

// Theme describes the boot menu's background/accent colors and optional
// custom font/properties.
type Theme struct {
	Background string            `json:"background"`
	Accent     string            `json:"accent"`
	FontPath   string            `json:"font_path,omitempty"`
	Custom     map[string]string `json:"custom,omitempty"`
}

// EntryType enumerates BootEntry.Type values.
type EntryType string

const (
	EntryKernelDirect    EntryType = "kernel_direct"
	EntryUefiChainload   EntryType = "uefi_chainload"
	EntryUefiApplication EntryType = "uefi_application"
	EntryInternalTool    EntryType = "internal_tool"
)

// BootEntry is a single bootable candidate.
type BootEntry struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Type         EntryType `json:"type"`
	KernelPath   string    `json:"kernel_path"`
	InitrdPath   string    `json:"initrd_path,omitempty"`
	Cmdline      string    `json:"cmdline,omitempty"`
	Order        int       `json:"order"`
	Secure       bool      `json:"secure"`
	Icon         string    `json:"icon,omitempty"`
	VolumeID     string    `json:"volume_id,omitempty"`
	Architecture string    `json:"architecture,omitempty"`
}

// AdvancedSettings holds the debug-shell/log-level/default-entry/display
// block, all optional with documented defaults.
type AdvancedSettings struct {
	DebugShell        bool   `json:"debug_shell"`
	LogLevel          string `json:"log_level"`
	DefaultEntry      string `json:"default_entry,omitempty"`
	DisplayResolution string `json:"display_resolution,omitempty"`
	Countdown         bool   `json:"countdown"`
	ProgressBarStyle  string `json:"progress_bar_style"`
	EnableMouse       bool   `json:"enable_mouse"`
	EnableTouch       bool   `json:"enable_touch"`
	EnableNetworkBoot bool   `json:"enable_network_boot"`
}

func defaultAdvancedSettings() AdvancedSettings {
	return AdvancedSettings{
		LogLevel:         "info",
		Countdown:        true,
		ProgressBarStyle: "bar",
		EnableMouse:      true,
	}
}

// LblConfig is the fully decoded, defaulted configuration document.
type LblConfig struct {
	TimeoutMs int              `json:"timeout_ms"`
	Theme     Theme            `json:"theme"`
	Entries   []BootEntry      `json:"entries"`
	Plugins   []string         `json:"plugins,omitempty"`
	Advanced  AdvancedSettings `json:"advanced"`
}

var colorPattern = regexp.MustCompile(`^#([0-9A-Fa-f]{6}|[0-9A-Fa-f]{8})$`)

// Load searches every mounted volume (in manager order) for a config
// document at each SearchPaths entry, decodes, defaults, and validates the
// first one found.
func Load(mgr *fs.Manager) (*LblConfig, error) {
	log := hallog.Logger()
	volumes := mgr.Volumes()
	if len(volumes) == 0 {
		return nil, &ConfigError{Kind: ErrNoVolumesMounted}
	}

	for _, volID := range volumes {
		inst, err := mgr.Volume(volID)
		if err != nil {
			continue
		}
		for _, p := range SearchPaths {
			data, err := inst.ReadFile(p)
			if err != nil {
				continue
			}
			log.Infof("config: found %s on volume %s", p, volID)
			return decodeAndValidate(data)
		}
	}

	return nil, &ConfigError{Kind: ErrFileNotFound}
}

// Parse runs the same two-phase structural/semantic validation Load uses,
// over raw config bytes obtained some other way than a mounted volume
// (e.g. internal/netboot fetching the document over HTTP).
func Parse(data []byte) (*LblConfig, error) {
	return decodeAndValidate(data)
}

// decodeAndValidate runs the two-phase structural/semantic validation over
// raw config bytes.
func decodeAndValidate(data []byte) (*LblConfig, error) {
	if err := validateSchema(data); err != nil {
		return nil, invalidFormat(err.Error())
	}

	var cfg LblConfig
	cfg.TimeoutMs = 5000
	cfg.Advanced = defaultAdvancedSettings()

	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, invalidFormat(err.Error())
	}
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = 5000
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateSchema(data []byte) error {
	c := jsonschema.NewCompiler()
	schemaBytes, err := schemaFS.ReadFile("schema/" + schemaResourceName)
	if err != nil {
		return fmt.Errorf("embedded schema missing: %w", err)
	}
	if err := c.AddResource(schemaResourceName, bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	schema, err := c.Compile(schemaResourceName)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("utf-8/json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return err
	}
	return nil
}

// Validate runs the semantic checks spec.md §4.5 requires beyond JSON
// Schema structural validity.
func Validate(cfg *LblConfig) error {
	if len(cfg.Entries) == 0 {
		return validationErr("entries must be non-empty")
	}

	seen := make(map[string]bool, len(cfg.Entries))
	for _, e := range cfg.Entries {
		if seen[e.ID] {
			return logicErr(fmt.Sprintf("duplicate id: %s", e.ID))
		}
		seen[e.ID] = true

		if e.Type == EntryKernelDirect && e.KernelPath == "" {
			return validationErr(fmt.Sprintf("entry %q: kernel_path required for kernel_direct", e.ID))
		}
	}

	if cfg.Advanced.DefaultEntry != "" && !seen[cfg.Advanced.DefaultEntry] {
		return logicErr(fmt.Sprintf("default_entry %q does not resolve to any entry", cfg.Advanced.DefaultEntry))
	}

	for _, c := range []string{cfg.Theme.Background, cfg.Theme.Accent} {
		if c == "" {
			continue
		}
		if !colorPattern.MatchString(c) {
			return validationErr(fmt.Sprintf("color %q does not match #RRGGBB[AA]", c))
		}
	}

	return nil
}

// DefaultEntry resolves the configured default entry, falling back to the
// lowest-Order entry when none is set.
func (c *LblConfig) DefaultEntry() *BootEntry {
	if c.Advanced.DefaultEntry != "" {
		for i := range c.Entries {
			if c.Entries[i].ID == c.Advanced.DefaultEntry {
				return &c.Entries[i]
			}
		}
	}
	if len(c.Entries) == 0 {
		return nil
	}
	best := &c.Entries[0]
	for i := range c.Entries {
		if c.Entries[i].Order < best.Order {
			best = &c.Entries[i]
		}
	}
	return best
}
