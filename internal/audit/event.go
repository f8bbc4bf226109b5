// Package audit maintains the per-envelope hash-chained audit log. Each
// event's hash binds the prior event's hash, so any rewrite of history is
// detectable by recomputation.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/inkform/trustcore/internal/canonical"
)

// GenesisPrevHash is the prev_event_hash of seq 0.
const GenesisPrevHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Event kinds. The list is extensible; unknown kinds are still chained and
// exported.
const (
	KindEnvelopeCreated    = "envelope_created"
	KindRecipientAdded     = "recipient_added"
	KindDocumentViewed     = "document_viewed"
	KindSignatureRequested = "signature_requested"
	KindSignatureSealed    = "signature_sealed"
	KindEvidenceRetrieved  = "evidence_retrieved"
	KindEnvelopeVoided     = "envelope_voided"
)

// Event is one immutable entry of an envelope's chain. Redaction is
// represented by a later event, never by edit.
type Event struct {
	Seq           int64          `json:"seq"`
	EnvelopeID    string         `json:"envelopeId"`
	Kind          string         `json:"kind"`
	OccurredAt    time.Time      `json:"occurredAt"`
	Payload       map[string]any `json:"payload"`
	PrevEventHash string         `json:"prevEventHash"`
	EventHash     string         `json:"eventHash"`
}

// ComputeEventHash chains prevHex to the canonical payload. The 0x1E record
// separator prevents collision via substring fusion between the two parts.
func ComputeEventHash(prevHex string, canonicalPayload []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHex))
	h.Write([]byte{0x1E})
	h.Write(canonicalPayload)
	return hex.EncodeToString(h.Sum(nil))
}

// Recompute re-canonicalizes the stored payload and recomputes the chain
// hash from the stored prev hash. Verification must never trust stored JSON
// formatting.
func (e *Event) Recompute() (string, error) {
	payload, err := canonical.Marshal(e.Payload)
	if err != nil {
		return "", err
	}
	return ComputeEventHash(e.PrevEventHash, payload), nil
}
