package bootexec

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"io"
	"testing"

	"github.com/lionxlover/lblcore/internal/bootexec/archadapt"
	"github.com/lionxlover/lblcore/internal/config"
	"github.com/lionxlover/lblcore/internal/fs"
	"github.com/lionxlover/lblcore/internal/halinfo"
	"github.com/lionxlover/lblcore/internal/memory"
	"github.com/lionxlover/lblcore/internal/secmgr"
)

const (
	ehdrSize = 64
	phdrSize = 56
)

func buildELF64(vaddr, entry uint64, payload []byte, memSize uint64) []byte {
	phoff := uint64(ehdrSize)
	dataOff := phoff + phdrSize
	buf := make([]byte, dataOff+uint64(len(payload)))

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4], buf[5], buf[6] = 2, 1, 1

	le := binary.LittleEndian
	le.PutUint16(buf[16:18], 2)
	le.PutUint16(buf[18:20], 62)
	le.PutUint32(buf[20:24], 1)
	le.PutUint64(buf[24:32], entry)
	le.PutUint64(buf[32:40], phoff)
	le.PutUint16(buf[52:54], ehdrSize)
	le.PutUint16(buf[54:56], phdrSize)
	le.PutUint16(buf[56:58], 1)

	ph := buf[phoff : phoff+phdrSize]
	le.PutUint32(ph[0:4], 1)
	le.PutUint32(ph[4:8], 5)
	le.PutUint64(ph[8:16], dataOff)
	le.PutUint64(ph[16:24], vaddr)
	le.PutUint64(ph[24:32], vaddr)
	le.PutUint64(ph[32:40], uint64(len(payload)))
	le.PutUint64(ph[40:48], memSize)
	le.PutUint64(ph[48:56], 4096)

	copy(buf[dataOff:], payload)
	return buf
}

type fakeInstance struct {
	files map[string][]byte
}

func (f *fakeInstance) Label() string { return "TEST" }
func (f *fakeInstance) ReadFile(path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, fs.NewError(fs.ErrNotFound, errors.New(path))
	}
	return data, nil
}
func (f *fakeInstance) Open(path string) (io.ReadCloser, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, fs.NewError(fs.ErrNotFound, errors.New(path))
	}
	return io.NopCloser(bytesReader(data)), nil
}
func (f *fakeInstance) ListDirectory(path string) ([]fs.DirEntry, error) {
	return nil, fs.NewError(fs.ErrUnsupported, nil)
}

func bytesReader(b []byte) io.Reader { return &sliceReader{b: b} }

type sliceReader struct {
	b   []byte
	pos int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

type fakeDriver struct{ inst *fakeInstance }

func (d *fakeDriver) Name() string              { return "fake" }
func (d *fakeDriver) Detect(fs.BlockDevice) bool { return true }
func (d *fakeDriver) Mount(fs.BlockDevice) (fs.Instance, error) {
	return d.inst, nil
}

type nullDevice struct{}

func (nullDevice) ReadAt(p []byte, off int64) (int, error) { return len(p), nil }
func (nullDevice) SectorSize() int                         { return 512 }
func (nullDevice) SectorCount() int64                      { return 1 }

func testSetup(t *testing.T, files map[string][]byte) (*fs.Manager, fs.VolumeID) {
	t.Helper()
	mgr := fs.NewManager()
	inst := &fakeInstance{files: files}
	mgr.Register(&fakeDriver{inst: inst})
	volID, err := mgr.Mount("dev0", nullDevice{})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return mgr, volID
}

func testHal(t *testing.T) *halinfo.Services {
	t.Helper()
	s, err := halinfo.Initialize(validHandoffBytes(), nil)
	if err != nil {
		t.Fatalf("halinfo.Initialize: %v", err)
	}
	return s
}

func TestExecutor_BootKernelDirect(t *testing.T) {
	kernelData := buildELF64(0x100000, 0x100000, []byte{0x90, 0x90}, 4096)
	mgr, _ := testSetup(t, map[string][]byte{"/boot/vmlinuz": kernelData})

	ex := NewExecutor(testHal(t), mgr, nil, memory.NewRegion(0x400000, 1<<20))
	cfg := &config.LblConfig{Entries: []config.BootEntry{
		{ID: "linux", Type: config.EntryKernelDirect, KernelPath: "/boot/vmlinuz", Cmdline: "console=ttyS0"},
	}}

	report, err := ex.Boot(context.Background(), cfg, "linux", archadapt.ArchX86_64)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if !report.Handoff.Implemented {
		t.Error("Handoff.Implemented = false, want true")
	}
	if !report.Measured {
		t.Error("Measured = false, want true")
	}
	if report.SignatureOK {
		t.Error("SignatureOK = true for a non-secure entry")
	}

	log := ex.TPMBank().EventLog()
	if len(log) != 2 {
		t.Fatalf("len(EventLog()) = %d, want 2 (kernel + cmdline)", len(log))
	}
}

func TestExecutor_BootKernelDirect_WithInitrd(t *testing.T) {
	kernelData := buildELF64(0x100000, 0x100000, []byte{0x90}, 4096)
	mgr, _ := testSetup(t, map[string][]byte{
		"/boot/vmlinuz": kernelData,
		"/boot/initrd":  []byte("fake initrd contents"),
	})

	ex := NewExecutor(testHal(t), mgr, nil, memory.NewRegion(0x400000, 1<<20))
	cfg := &config.LblConfig{Entries: []config.BootEntry{
		{ID: "linux", Type: config.EntryKernelDirect, KernelPath: "/boot/vmlinuz", InitrdPath: "/boot/initrd"},
	}}

	report, err := ex.Boot(context.Background(), cfg, "linux", archadapt.ArchX86_64)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	log := ex.TPMBank().EventLog()
	if len(log) != 3 {
		t.Fatalf("len(EventLog()) = %d, want 3 (kernel + cmdline + initrd)", len(log))
	}
	_ = report
}

func TestExecutor_BootKernelDirect_SecureRequiresSignature(t *testing.T) {
	kernelData := buildELF64(0x100000, 0x100000, []byte{0x90}, 4096)
	mgr, _ := testSetup(t, map[string][]byte{"/boot/vmlinuz": kernelData})

	ex := NewExecutor(testHal(t), mgr, nil, memory.NewRegion(0x400000, 1<<20))
	cfg := &config.LblConfig{Entries: []config.BootEntry{
		{ID: "linux", Type: config.EntryKernelDirect, KernelPath: "/boot/vmlinuz", Secure: true},
	}}

	_, err := ex.Boot(context.Background(), cfg, "linux", archadapt.ArchX86_64)
	var be *BootError
	if !errors.As(err, &be) || be.Code != ErrSignatureRequired {
		t.Fatalf("err = %v, want ErrSignatureRequired", err)
	}
}

func TestExecutor_BootKernelDirect_SecureWithValidSignature(t *testing.T) {
	kernelData := buildELF64(0x100000, 0x100000, []byte{0x90}, 4096)

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	sum := sha256.Sum256(der)
	var hint [8]byte
	copy(hint[:], sum[:8])

	realSig, err := signForTest(priv, kernelData)
	if err != nil {
		t.Fatalf("signForTest: %v", err)
	}

	envelope := buildTestEnvelope(1, hint, realSig)
	mgr, _ := testSetup(t, map[string][]byte{
		"/boot/vmlinuz":     kernelData,
		"/boot/vmlinuz.sig": envelope,
	})

	ks, err := testKeyStoreFromPEM(pemData)
	if err != nil {
		t.Fatalf("testKeyStoreFromPEM: %v", err)
	}

	ex := NewExecutor(testHal(t), mgr, ks, memory.NewRegion(0x400000, 1<<20))
	cfg := &config.LblConfig{Entries: []config.BootEntry{
		{ID: "linux", Type: config.EntryKernelDirect, KernelPath: "/boot/vmlinuz", Secure: true},
	}}

	report, err := ex.Boot(context.Background(), cfg, "linux", archadapt.ArchX86_64)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if !report.SignatureOK {
		t.Error("SignatureOK = false, want true")
	}
}

func TestExecutor_BootEntryNotFound(t *testing.T) {
	mgr, _ := testSetup(t, map[string][]byte{})
	ex := NewExecutor(testHal(t), mgr, nil, memory.NewRegion(0x400000, 1<<20))
	cfg := &config.LblConfig{Entries: []config.BootEntry{{ID: "a", Type: config.EntryKernelDirect}}}

	_, err := ex.Boot(context.Background(), cfg, "nonexistent", archadapt.ArchX86_64)
	var be *BootError
	if !errors.As(err, &be) || be.Code != ErrEntryNotFound {
		t.Fatalf("err = %v, want ErrEntryNotFound", err)
	}
}

type fakeUEFI struct {
	loaded  bool
	started bool
}

func (f *fakeUEFI) GetMemoryMapKey() (uint64, error) { return 1, nil }
func (f *fakeUEFI) ExitBootServices(key uint64) error { return nil }
func (f *fakeUEFI) LoadImage(path string, data []byte) (uint64, error) {
	f.loaded = true
	return 42, nil
}
func (f *fakeUEFI) StartImage(handle uint64) error {
	f.started = handle == 42
	return nil
}

func TestExecutor_BootUEFIChainload(t *testing.T) {
	peData := buildMinimalPEForTest(t)
	mgr, _ := testSetup(t, map[string][]byte{"/EFI/BOOT/grubx64.efi": peData})

	ex := NewExecutor(testHal(t), mgr, nil, memory.NewRegion(0x400000, 1<<20))
	fw := &fakeUEFI{}
	ex.SetFirmware(fw)

	cfg := &config.LblConfig{Entries: []config.BootEntry{
		{ID: "grub", Type: config.EntryUefiChainload, KernelPath: "/EFI/BOOT/grubx64.efi"},
	}}

	report, err := ex.Boot(context.Background(), cfg, "grub", archadapt.ArchX86_64)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if !fw.loaded || !fw.started {
		t.Error("firmware LoadImage/StartImage not called")
	}
	if report.PEEvidence == nil {
		t.Fatal("PEEvidence = nil, want evidence")
	}
}

func TestExecutor_BootUEFIChainload_NoFirmwareConfigured(t *testing.T) {
	peData := buildMinimalPEForTest(t)
	mgr, _ := testSetup(t, map[string][]byte{"/EFI/BOOT/grubx64.efi": peData})

	ex := NewExecutor(testHal(t), mgr, nil, memory.NewRegion(0x400000, 1<<20))
	cfg := &config.LblConfig{Entries: []config.BootEntry{
		{ID: "grub", Type: config.EntryUefiChainload, KernelPath: "/EFI/BOOT/grubx64.efi"},
	}}

	report, err := ex.Boot(context.Background(), cfg, "grub", archadapt.ArchX86_64)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if report.Handoff.Implemented {
		t.Error("Handoff.Implemented = true, want false without firmware configured")
	}
}

func TestExecutor_BootInternalTool(t *testing.T) {
	mgr, _ := testSetup(t, map[string][]byte{})
	ex := NewExecutor(testHal(t), mgr, nil, memory.NewRegion(0x400000, 1<<20))

	called := false
	ex.RegisterInternalTool("debug-shell", func(ctx context.Context, e *Executor) error {
		called = true
		return nil
	})

	cfg := &config.LblConfig{Entries: []config.BootEntry{
		{ID: "shell", Type: config.EntryInternalTool, KernelPath: "internal://debug-shell"},
	}}

	report, err := ex.Boot(context.Background(), cfg, "shell", archadapt.ArchX86_64)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if !called {
		t.Error("internal tool handler was not invoked")
	}
	if report.InternalTool != "debug-shell" {
		t.Errorf("InternalTool = %q, want debug-shell", report.InternalTool)
	}
}

func TestExecutor_BootInternalTool_Unknown(t *testing.T) {
	mgr, _ := testSetup(t, map[string][]byte{})
	ex := NewExecutor(testHal(t), mgr, nil, memory.NewRegion(0x400000, 1<<20))

	cfg := &config.LblConfig{Entries: []config.BootEntry{
		{ID: "shell", Type: config.EntryInternalTool, KernelPath: "internal://nope"},
	}}

	_, err := ex.Boot(context.Background(), cfg, "shell", archadapt.ArchX86_64)
	var be *BootError
	if !errors.As(err, &be) || be.Code != ErrUnknownInternalTool {
		t.Fatalf("err = %v, want ErrUnknownInternalTool", err)
	}
}

// --- helpers bridging this package's tests to secmgr's LSIG envelope
// format, without re-exporting secmgr internals just for tests. ---

func signForTest(priv *rsa.PrivateKey, kernelData []byte) ([]byte, error) {
	digest := sha256.Sum256(kernelData)
	return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
}

func buildTestEnvelope(algo byte, hint [8]byte, sig []byte) []byte {
	buf := make([]byte, 15+len(sig))
	copy(buf[0:4], []byte("LSIG"))
	buf[4] = algo
	copy(buf[5:13], hint[:])
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(sig)))
	copy(buf[15:], sig)
	return buf
}

func testKeyStoreFromPEM(pemData []byte) (*secmgr.KeyStore, error) {
	return secmgr.NewKeyStoreFromPEM(pemData)
}

// buildMinimalPEForTest constructs a header-only PE image recognizable by
// debug/pe, reusing the same byte layout as peclassify's own test helper.
func buildMinimalPEForTest(t *testing.T) []byte {
	t.Helper()
	const peOffset = 0x80
	buf := make([]byte, peOffset)
	buf[0], buf[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(buf[0x3c:], peOffset)

	out := append(buf, []byte("PE\x00\x00")...)

	const optHeaderSize = 112 + 16*8
	coff := make([]byte, 20)
	binary.LittleEndian.PutUint16(coff[0:], 0x8664)
	binary.LittleEndian.PutUint16(coff[2:], 1)
	binary.LittleEndian.PutUint16(coff[16:], uint16(optHeaderSize))
	binary.LittleEndian.PutUint16(coff[18:], 0x22)
	out = append(out, coff...)

	opt := make([]byte, optHeaderSize)
	binary.LittleEndian.PutUint16(opt[0:], 0x20b)
	binary.LittleEndian.PutUint32(opt[108:], 16)
	out = append(out, opt...)

	sec := make([]byte, 40)
	copy(sec[0:8], ".text")
	out = append(out, sec...)

	return out
}
