// Package secmgr implements signature verification for secure boot entries.
// Trusted public keys come from the embedded keyring (ASCII-armored OpenPGP
// blocks decoded with go-crypto's armor/packet readers, or PEM-encoded PKIX
// keys) plus any PEM-encoded keys found under /LBL/keys/ on mounted
// volumes; the actual per-entry signature envelope is a small fixed-layout
// "LSIG" record carrying a raw RSA or ECDSA signature over the kernel image,
// verified with the standard library once the corresponding public key has
// been located by its 8-byte key-id hint.
package secmgr

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"embed"
	"encoding/binary"
	"encoding/pem"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/lionxlover/lblcore/internal/fs"
	"github.com/lionxlover/lblcore/internal/hallog"
)

//go:embed keys
var embeddedKeysFS embed.FS

// SecError is the sentinel error taxonomy for this package.
type SecError struct {
	Code string
	Err  error
}

func (e *SecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("secmgr: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("secmgr: %s", e.Code)
}

func (e *SecError) Unwrap() error { return e.Err }

// SecError codes, per spec.md §4.8.
const (
	ErrKeyNotFound         = "key_not_found"
	ErrSignatureMalformed  = "signature_malformed"
	ErrSignatureInvalid    = "signature_invalid"
	ErrUnsupportedAlgo     = "unsupported_algorithm"
	ErrSignatureFileAbsent = "signature_file_absent"
)

func newErr(code string, err error) *SecError { return &SecError{Code: code, Err: err} }

// Algorithm identifies the signing algorithm in an LSIG envelope.
type Algorithm uint8

const (
	AlgRSA2048SHA256   Algorithm = 1
	AlgECDSAP256SHA256 Algorithm = 2
)

// lsigMagic is the 4-byte envelope tag, "LSIG" in ASCII.
var lsigMagic = [4]byte{'L', 'S', 'I', 'G'}

const lsigHeaderSize = 4 + 1 + 8 + 2 // magic + algorithm + key id hint + sig length

// Envelope is a parsed ".sig" companion file: a fixed 15-byte header
// (magic, algorithm, 8-byte key-id hint, 2-byte big-endian signature
// length) followed by the raw signature bytes.
type Envelope struct {
	Algorithm Algorithm
	KeyIDHint [8]byte
	Signature []byte
}

// ParseEnvelope decodes a ".sig" file's bytes into an Envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if len(data) < lsigHeaderSize {
		return env, newErr(ErrSignatureMalformed, fmt.Errorf("envelope shorter than header (%d bytes)", len(data)))
	}
	if !bytes.Equal(data[0:4], lsigMagic[:]) {
		return env, newErr(ErrSignatureMalformed, fmt.Errorf("bad magic %x", data[0:4]))
	}
	env.Algorithm = Algorithm(data[4])
	copy(env.KeyIDHint[:], data[5:13])
	sigLen := binary.BigEndian.Uint16(data[13:15])
	if len(data) < lsigHeaderSize+int(sigLen) {
		return env, newErr(ErrSignatureMalformed, fmt.Errorf("envelope truncated: want %d signature bytes, have %d", sigLen, len(data)-lsigHeaderSize))
	}
	env.Signature = data[lsigHeaderSize : lsigHeaderSize+int(sigLen)]
	return env, nil
}

// TrustedKey is a public key indexed by the 8-byte hint carried in an
// Envelope: the first 8 bytes of the SHA-256 of the DER encoding for PEM
// keys, or the last 8 bytes of the OpenPGP fingerprint for armored
// OpenPGP keys.
type TrustedKey struct {
	Hint  [8]byte
	RSA   *rsa.PublicKey
	ECDSA *ecdsa.PublicKey
}

// KeyStore holds every trusted public key the engine knows about, keyed by
// hint for O(1) lookup during verification.
type KeyStore struct {
	keys map[[8]byte]TrustedKey
}

// LoadKeyStore builds a KeyStore from the embedded default keyring plus, if
// mgr has mounted volumes, any PEM-encoded public keys found under
// /LBL/keys/ on each volume. A missing /LBL/keys/ directory on a volume is
// not an error; it just contributes no additional keys.
func LoadKeyStore(mgr *fs.Manager) (*KeyStore, error) {
	log := hallog.Logger()
	ks := &KeyStore{keys: make(map[[8]byte]TrustedKey)}

	if err := ks.loadEmbedded(); err != nil {
		return nil, err
	}

	if mgr != nil {
		for _, volID := range mgr.Volumes() {
			inst, err := mgr.Volume(volID)
			if err != nil {
				continue
			}
			entries, err := inst.ListDirectory("/LBL/keys")
			if err != nil {
				continue
			}
			for _, e := range entries {
				if e.IsDir {
					continue
				}
				data, err := inst.ReadFile("/LBL/keys/" + e.Name)
				if err != nil {
					log.Warnf("secmgr: failed reading key %s on %s: %v", e.Name, volID, err)
					continue
				}
				if err := ks.addPEMKey(data); err != nil {
					log.Warnf("secmgr: failed parsing key %s on %s: %v", e.Name, volID, err)
				}
			}
		}
	}

	log.Infof("secmgr: key store loaded with %d trusted keys", len(ks.keys))
	return ks, nil
}

// NewKeyStoreFromPEM builds a KeyStore directly from one or more PEM-encoded
// public keys, bypassing volume/embedded discovery. Useful for the CLI's
// --trust-key flag and for tests.
func NewKeyStoreFromPEM(pemBlocks ...[]byte) (*KeyStore, error) {
	ks := &KeyStore{keys: make(map[[8]byte]TrustedKey)}
	for _, b := range pemBlocks {
		if err := ks.addPEMKey(b); err != nil {
			return nil, fmt.Errorf("parse trusted key: %w", err)
		}
	}
	return ks, nil
}

func (ks *KeyStore) loadEmbedded() error {
	log := hallog.Logger()
	entries, err := embeddedKeysFS.ReadDir("keys")
	if err != nil {
		// No embedded keyring shipped; not fatal, volumes may supply keys.
		return nil
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := embeddedKeysFS.ReadFile("keys/" + e.Name())
		if err != nil {
			continue
		}
		if err := ks.addArmoredOpenPGPKey(data); err != nil {
			if err := ks.addPEMKey(data); err != nil {
				log.Debugf("secmgr: skipping embedded keys/%s: not a key file", e.Name())
			}
		}
	}
	return nil
}

// addArmoredOpenPGPKey parses an ASCII-armored OpenPGP public key block
// (the engine's primary trusted-key distribution format) and extracts its
// underlying RSA or ECDSA public key material.
func (ks *KeyStore) addArmoredOpenPGPKey(data []byte) error {
	block, err := armor.Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	pkt, err := packet.Read(block.Body)
	if err != nil {
		return err
	}
	pubKey, ok := pkt.(*packet.PublicKey)
	if !ok {
		return fmt.Errorf("armored block did not contain a public key packet")
	}

	hint := fingerprintHint(pubKey.Fingerprint[:])
	switch pk := pubKey.PublicKey.(type) {
	case *rsa.PublicKey:
		ks.keys[hint] = TrustedKey{Hint: hint, RSA: pk}
	case *ecdsa.PublicKey:
		ks.keys[hint] = TrustedKey{Hint: hint, ECDSA: pk}
	default:
		return fmt.Errorf("unsupported OpenPGP public key algorithm")
	}
	return nil
}

// addPEMKey parses a bare PEM-encoded X.509 public key, the format boot
// volumes are expected to carry under /LBL/keys/.
func (ks *KeyStore) addPEMKey(data []byte) error {
	block, _ := pem.Decode(data)
	if block == nil {
		return fmt.Errorf("not PEM data")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("parse PKIX public key: %w", err)
	}

	sum := sha256.Sum256(block.Bytes)
	var hint [8]byte
	copy(hint[:], sum[:8])

	switch pk := pub.(type) {
	case *rsa.PublicKey:
		ks.keys[hint] = TrustedKey{Hint: hint, RSA: pk}
	case *ecdsa.PublicKey:
		if pk.Curve != elliptic.P256() {
			return fmt.Errorf("unsupported ECDSA curve %s", pk.Curve.Params().Name)
		}
		ks.keys[hint] = TrustedKey{Hint: hint, ECDSA: pk}
	default:
		return fmt.Errorf("unsupported public key type %T", pub)
	}
	return nil
}

func fingerprintHint(fingerprint []byte) [8]byte {
	var hint [8]byte
	if len(fingerprint) >= 8 {
		copy(hint[:], fingerprint[len(fingerprint)-8:])
	}
	return hint
}

// Verify checks kernelData against the signature envelope bytes sigData
// using the key identified by the envelope's key-id hint.
func Verify(ks *KeyStore, kernelData, sigData []byte) error {
	env, err := ParseEnvelope(sigData)
	if err != nil {
		return err
	}

	key, ok := ks.keys[env.KeyIDHint]
	if !ok {
		return newErr(ErrKeyNotFound, fmt.Errorf("no trusted key for hint %x", env.KeyIDHint))
	}

	digest := sha256.Sum256(kernelData)

	switch env.Algorithm {
	case AlgRSA2048SHA256:
		if key.RSA == nil {
			return newErr(ErrUnsupportedAlgo, fmt.Errorf("hint %x resolved to a non-RSA key", env.KeyIDHint))
		}
		if err := rsa.VerifyPKCS1v15(key.RSA, crypto.SHA256, digest[:], env.Signature); err != nil {
			return newErr(ErrSignatureInvalid, err)
		}
		return nil
	case AlgECDSAP256SHA256:
		if key.ECDSA == nil {
			return newErr(ErrUnsupportedAlgo, fmt.Errorf("hint %x resolved to a non-ECDSA key", env.KeyIDHint))
		}
		if !ecdsa.VerifyASN1(key.ECDSA, digest[:], env.Signature) {
			return newErr(ErrSignatureInvalid, fmt.Errorf("ECDSA verification failed"))
		}
		return nil
	default:
		return newErr(ErrUnsupportedAlgo, fmt.Errorf("unknown algorithm id %d", env.Algorithm))
	}
}

// VerifyEntry locates kernelPath+".sig" on inst and verifies kernelData
// against it. It returns ErrSignatureFileAbsent (distinct from a failed
// verification) when no signature file exists, so callers can decide
// policy for secure entries missing a signature entirely.
func VerifyEntry(ks *KeyStore, inst fs.Instance, kernelPath string, kernelData []byte) error {
	sigData, err := inst.ReadFile(kernelPath + ".sig")
	if err != nil {
		return newErr(ErrSignatureFileAbsent, err)
	}
	return Verify(ks, kernelData, sigData)
}
