// Package evidence assembles the canonicalizer, signer, TSA client, and
// audit chain into a single sealing service producing legally defensible
// signing evidence.
package evidence

import (
	"regexp"

	"github.com/inkform/trustcore/internal/audit"
	"github.com/inkform/trustcore/internal/shared/errors"
	"github.com/inkform/trustcore/internal/signer"
	"github.com/inkform/trustcore/internal/tsa"
)

// Field is one name/value pair filled by the recipient. Order is preserved
// through canonicalization.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Actor captures who performed the signing act.
type Actor struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	IPAddress   string `json:"ipAddress,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
}

// Intent captures the declaration the recipient consented to.
type Intent struct {
	DeclarationText string `json:"declarationText"`
	ConsentGivenAt  string `json:"consentGivenAt"`
}

// SigningRequest is the immutable input of a sealing operation. It exists
// only in memory; the document itself never enters the core, only its
// digest.
type SigningRequest struct {
	EnvelopeID     string  `json:"envelopeId"`
	RecipientID    string  `json:"recipientId"`
	DocumentDigest string  `json:"documentDigest"`
	Fields         []Field `json:"fields"`
	Actor          Actor   `json:"actor"`
	Intent         Intent  `json:"intent"`
	// ClientProvidedAt is the client's own RFC 3339 timestamp; advisory
	// only, the server-assigned occurredAt is authoritative.
	ClientProvidedAt string `json:"clientProvidedAt,omitempty"`
}

var sha256HexRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Validate rejects malformed requests before any side effect.
func (r *SigningRequest) Validate() error {
	if r.EnvelopeID == "" {
		return errors.BadRequest("envelopeId is required")
	}
	if r.RecipientID == "" {
		return errors.BadRequest("recipientId is required")
	}
	if !sha256HexRe.MatchString(r.DocumentDigest) {
		return errors.BadRequest("documentDigest must be lowercase hex SHA-256")
	}
	return nil
}

// SigningEvidence is the assembled result of a seal. EvidenceID equals the
// sealed event's hash.
type SigningEvidence struct {
	EvidenceID string         `json:"evidenceId"`
	Event      *audit.Event   `json:"event"`
	Sig        *signer.Bundle `json:"sig"`
	Tsa        *tsa.Token     `json:"tsa"`
}

// ChainVerification is the verify output plus operator-facing warnings
// (dev-signed evidence, advisory-only timestamps).
type ChainVerification struct {
	OK          bool     `json:"ok"`
	FirstBadSeq *int64   `json:"firstBadSeq,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// SealedSignature pairs a signature bundle with its TSA token in the export
// bundle.
type SealedSignature struct {
	EvidenceID  string         `json:"evidenceId"`
	RecipientID string         `json:"recipientId"`
	Sig         *signer.Bundle `json:"sig"`
	Tsa         *tsa.Token     `json:"tsa"`
}

// Bundle is the exportable evidence for an envelope: the full chain plus
// every signature with its timestamp token.
type Bundle struct {
	EnvelopeID     string            `json:"envelopeId"`
	DocumentDigest string            `json:"documentDigest,omitempty"`
	Chain          []audit.Event     `json:"chain"`
	Signatures     []SealedSignature `json:"signatures"`
}
