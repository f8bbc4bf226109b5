package audit

import (
	"context"
	"time"
)

// SealRecord is the signature evidence row persisted atomically with its
// signature_sealed event. EvidenceID equals the event's hash, giving the
// 1:1 relationship a natural key.
type SealRecord struct {
	EvidenceID    string    `json:"evidenceId"`
	EnvelopeID    string    `json:"envelopeId"`
	RecipientID   string    `json:"recipientId"`
	Provider      string    `json:"provider"`
	Algorithm     string    `json:"algorithm"`
	SignatureBlob string    `json:"signatureBlob"`
	CertChainJSON []byte    `json:"-"`
	TsaTokenJSON  []byte    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Repository persists chain events. Implementations must enforce the unique
// (envelope_id, seq) constraint and report a stale head as ErrChainConflict.
type Repository interface {
	// Head returns the latest event of an envelope, or nil when the chain
	// is empty.
	Head(ctx context.Context, envelopeID string) (*Event, error)

	// Insert appends one event, atomically with its seal record when seal
	// is non-nil. A duplicate (envelope_id, seq) is ErrChainConflict.
	Insert(ctx context.Context, e *Event, seal *SealRecord) error

	// List returns the full chain of an envelope ordered by seq.
	List(ctx context.Context, envelopeID string) ([]Event, error)

	// Seals returns the signature evidence rows of an envelope ordered by
	// creation.
	Seals(ctx context.Context, envelopeID string) ([]SealRecord, error)
}
