// Package netboot implements a network boot source: it fetches the config
// document and every file a boot entry names over HTTPS from a configured
// server, and presents the result as an ordinary fs.Instance so the rest of
// the engine (config, bootexec, fsplugin) never needs to know the bytes
// came off the network rather than a disk. The engine does not switch to
// it on its own when advanced.enable_network_boot is set or no local
// volume mounts; a caller joins it to an fs.Manager with Attach.
package netboot

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/lionxlover/lblcore/internal/fs"
	"github.com/lionxlover/lblcore/internal/hallog"
)

// NetError is the sentinel error taxonomy for this package.
type NetError struct {
	Code string
	Err  error
}

func (e *NetError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("netboot: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("netboot: %s", e.Code)
}

func (e *NetError) Unwrap() error { return e.Err }

const (
	ErrFetchFailed = "fetch_failed"
	ErrBadStatus   = "bad_status"
	ErrInvalidPath = "invalid_path"
)

// NewSecureHTTPClient returns an http.Client hardened the same way the
// engine's other outbound-network callers are: a cloned default transport
// with conservative dial/handshake/response timeouts, HTTP/2 preferred, and
// a TLS floor of 1.2 with no ciphers outside a short allow-list.
func NewSecureHTTPClient() *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()

	base.DialContext = (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext

	base.TLSHandshakeTimeout = 10 * time.Second
	base.ResponseHeaderTimeout = 15 * time.Second
	base.ExpectContinueTimeout = 1 * time.Second
	base.IdleConnTimeout = 90 * time.Second
	base.ForceAttemptHTTP2 = true

	base.TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		},
	}

	return &http.Client{
		Transport: base,
		Timeout:   30 * time.Second,
	}
}

// ConfigPaths mirrors internal/config.SearchPaths, tried in order against
// the netboot server before falling through to config.ErrFileNotFound.
var ConfigPaths = []string{
	"/LBL/config.json",
	"/boot/lbl/config.json",
	"/config.json",
}

// Instance is an fs.Instance backed by HTTP GETs against baseURL, with each
// successfully fetched path cached for the lifetime of the boot.
type Instance struct {
	client  *http.Client
	baseURL string
	ctx     context.Context

	mu    sync.Mutex
	cache map[string][]byte
}

// NewInstance builds a netboot Instance. baseURL must be an absolute
// "https://host[:port]" URL with no trailing slash; ctx bounds every fetch
// this Instance performs.
func NewInstance(ctx context.Context, baseURL string) *Instance {
	return &Instance{
		client:  NewSecureHTTPClient(),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		ctx:     ctx,
		cache:   make(map[string][]byte),
	}
}

// Attach fetches nothing itself; it registers inst into mgr's volume table
// under the "netboot" driver name, so resolveVolume-style lookups in
// internal/bootexec treat it like any other mounted volume.
func Attach(mgr *fs.Manager, inst *Instance) fs.VolumeID {
	return mgr.MountInstance(inst.baseURL, "netboot", inst)
}

func (i *Instance) Label() string { return "netboot:" + i.baseURL }

// ReadFile fetches path in full, caching it for subsequent reads of the
// same path within this Instance's lifetime.
func (i *Instance) ReadFile(p string) ([]byte, error) {
	if err := fs.ValidatePath(p); err != nil {
		return nil, err
	}

	i.mu.Lock()
	if cached, ok := i.cache[p]; ok {
		i.mu.Unlock()
		return cached, nil
	}
	i.mu.Unlock()

	data, err := i.fetch(p)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	i.cache[p] = data
	i.mu.Unlock()
	return data, nil
}

// Open returns a stream over an already-fetched-in-full body. Network boot
// sources do not support ranged/partial reads, so this buffers the whole
// file first — acceptable for a fallback path that is not the common case.
func (i *Instance) Open(p string) (io.ReadCloser, error) {
	data, err := i.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

// ListDirectory is unsupported: the netboot server is addressed by exact
// file URL, not browsed, matching spec.md's network-boot Non-goal of
// directory listing over HTTP.
func (i *Instance) ListDirectory(p string) ([]fs.DirEntry, error) {
	return nil, &fs.FsError{Code: fs.ErrUnsupported, Err: fmt.Errorf("netboot volumes do not support directory listing")}
}

func (i *Instance) fetch(p string) ([]byte, error) {
	log := hallog.Logger()
	url := i.baseURL + path.Clean("/"+p)

	req, err := http.NewRequestWithContext(i.ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetError{Code: ErrFetchFailed, Err: err}
	}

	log.Infof("netboot: fetching %s", url)
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, &NetError{Code: ErrFetchFailed, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &NetError{Code: ErrBadStatus, Err: fmt.Errorf("%s: HTTP %d", url, resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetError{Code: ErrFetchFailed, Err: err}
	}
	log.Infof("netboot: fetched %s (%d bytes)", url, len(data))
	return data, nil
}

// FetchConfig tries each of ConfigPaths in order against inst and returns
// the first one found, matching internal/config.Load's own fixed search
// order for locally mounted volumes.
func FetchConfig(inst *Instance) ([]byte, error) {
	var lastErr error
	for _, p := range ConfigPaths {
		data, err := inst.ReadFile(p)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, &NetError{Code: ErrFetchFailed, Err: fmt.Errorf("no config found under any of %v: %w", ConfigPaths, lastErr)}
}
