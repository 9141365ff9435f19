// Package rpminspect is a static fsplugin.Plugin that reports package
// metadata (name/version/release/arch, plus epoch when non-zero) for .rpm
// files encountered
// on a mounted volume, e.g. rescue/recovery boot entries that ship a
// package cache the boot menu wants to list without a package manager.
package rpminspect

import (
	"bytes"
	"fmt"
	"strings"

	rpmutils "github.com/sassoftware/go-rpmutils"

	"github.com/lionxlover/lblcore/internal/fsplugin"
)

func init() {
	fsplugin.Register(plugin{})
}

type plugin struct{}

func (plugin) Name() string { return "rpminspect" }

// Supports checks the RPM lead magic (0xed 0xab 0xee 0xdb) and, failing
// that, the ".rpm" suffix, matching the engine's other format sniffers'
// magic-first-suffix-fallback convention.
func (plugin) Supports(path string, data []byte) bool {
	if len(data) >= 4 && data[0] == 0xed && data[1] == 0xab && data[2] == 0xee && data[3] == 0xdb {
		return true
	}
	return strings.HasSuffix(strings.ToLower(path), ".rpm")
}

func (plugin) Inspect(path string, data []byte) (map[string]string, error) {
	pkg, err := rpmutils.ReadPackageFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("rpminspect: %w", err)
	}

	nevra, err := pkg.Header.GetNEVRA()
	if err != nil {
		return nil, fmt.Errorf("rpminspect: read NEVRA: %w", err)
	}

	meta := map[string]string{
		"name":    nevra.Name,
		"version": nevra.Version,
		"release": nevra.Release,
		"arch":    nevra.Arch,
	}
	if nevra.Epoch != "" && nevra.Epoch != "0" {
		meta["epoch"] = nevra.Epoch
	}

	return meta, nil
}
