package archadapt

import (
	"fmt"

	"github.com/lionxlover/lblcore/internal/bootexec/kernelfmt"
	"github.com/lionxlover/lblcore/internal/hallog"
	"github.com/lionxlover/lblcore/internal/halinfo"
	"github.com/lionxlover/lblcore/internal/memory"
)

// unimplementedAdapter covers architectures the original left as stubs
// (32-bit x86, 32-bit ARM): it reports Implemented=false rather than
// performing any handoff, matching the original's panic("... jump stub")
// behavior but as a recoverable error instead of a hard panic.
type unimplementedAdapter struct {
	arch Arch
}

func (u unimplementedAdapter) Arch() Arch { return u.arch }

func (u unimplementedAdapter) PrepareAndJump(hal *halinfo.Services, region *memory.Region, kernel kernelfmt.KernelInfo, initrd *kernelfmt.LoadedImageInfo, cmdline string) (HandoffResult, error) {
	log := hallog.Logger()
	note := fmt.Sprintf("%s kernel jump not implemented", u.arch)
	log.Errorf("archadapt(%s): %s", u.arch, note)

	return HandoffResult{
		Arch:        u.arch,
		Implemented: false,
		UnimplNote:  note,
	}, fmt.Errorf("archadapt: %s", note)
}
