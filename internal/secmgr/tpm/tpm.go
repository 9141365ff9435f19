// Package tpm simulates a TPM 2.0 PCR bank and TCG event log for measured
// boot: no physical TPM is addressed, but the extend operation (PCR_new =
// SHA256(PCR_old || digest)) and event-log bookkeeping follow the TCG PC
// Client Platform Firmware Profile exactly, so a real TPM backend can be
// swapped in behind the same Bank interface later.
package tpm

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"

	"github.com/lionxlover/lblcore/internal/hallog"
)

// PCR indices the engine extends, per spec.md §4.8.
const (
	PCRCmdline PCR = 8
	PCRInitrd  PCR = 9
	PCRKernel  PCR = 10
)

// PCR is a Platform Configuration Register index.
type PCR int

// EventLogEntry records one extend operation, mirroring a TCG PCR event log
// entry closely enough for an external attestation tool to replay it.
type EventLogEntry struct {
	ID          string
	PCR         PCR
	Digest      [32]byte
	Description string
}

// Bank is a simulated TPM 2.0 PCR bank plus its accompanying event log.
type Bank struct {
	pcrs     map[PCR][32]byte
	eventLog []EventLogEntry
}

// NewBank returns a Bank with every PCR reset to all-zero, the TPM 2.0
// startup state for PCRs that have never been extended.
func NewBank() *Bank {
	return &Bank{pcrs: make(map[PCR][32]byte)}
}

// Extend folds data's SHA-256 digest into pcr: PCR_new = SHA256(PCR_old ||
// SHA256(data)), and appends an event log entry.
func (b *Bank) Extend(pcr PCR, data []byte, description string) [32]byte {
	log := hallog.Logger()

	dataDigest := sha256.Sum256(data)
	old := b.pcrs[pcr]

	combined := make([]byte, 0, 64)
	combined = append(combined, old[:]...)
	combined = append(combined, dataDigest[:]...)
	newVal := sha256.Sum256(combined)
	b.pcrs[pcr] = newVal

	entry := EventLogEntry{
		ID:          newEventID(),
		PCR:         pcr,
		Digest:      dataDigest,
		Description: description,
	}
	b.eventLog = append(b.eventLog, entry)

	log.Infow("tpm: extended PCR", "pcr", pcr, "description", description, "digest", fmt.Sprintf("%x", dataDigest))
	return newVal
}

// Read returns the current value of pcr.
func (b *Bank) Read(pcr PCR) [32]byte {
	return b.pcrs[pcr]
}

// EventLog returns every extend operation performed so far, in order.
func (b *Bank) EventLog() []EventLogEntry {
	return append([]EventLogEntry(nil), b.eventLog...)
}

func newEventID() string {
	return uuid.NewString()
}
