// Package tsa obtains time-stamp tokens over pluggable providers: an
// internal development TSA, a bare clock hint, RFC 3161 over HTTP, or a
// pass-through of the Sigstore bundle emitted by the external signer.
//
// What gets stamped is the canonical bytes of the signing request, not the
// signature blob: a verifier can re-derive the digest from the stored
// request without trusting the signer.
package tsa

import "time"

// Token types. The type tag is persisted with the token so verifiers can
// tell a real timestamp proof from an advisory hint.
const (
	TypeNone     = "none"
	TypeDev      = "internal_dev_tsa"
	TypeClock    = "clock"
	TypeRFC3161  = "rfc3161"
	TypeSigstore = "sigstore_bundle"
)

// MessageImprint binds a token to the digest it covers.
type MessageImprint struct {
	HashAlgorithm string `json:"hashAlgorithm"`
	HashBase64    string `json:"hashBase64"`
}

// Token is the tagged union of all provider outputs. Only the fields for
// the tagged type are populated; everything else is omitted.
type Token struct {
	Type string `json:"type"`

	// FallbackFromRFC3161 records the explicit dev downgrade so it is
	// never silent.
	FallbackFromRFC3161 bool `json:"fallbackFromRfc3161,omitempty"`

	// dev and clock
	GenTime *time.Time `json:"genTime,omitempty"`

	// dev
	PolicyOID       string          `json:"policyOid,omitempty"`
	Nonce           string          `json:"nonce,omitempty"`
	Serial          string          `json:"serial,omitempty"`
	AccuracyMs      int             `json:"accuracyMs,omitempty"`
	MessageImprint  *MessageImprint `json:"messageImprint,omitempty"`
	Issuer          string          `json:"issuer,omitempty"`
	SignatureBase64 string          `json:"signatureBase64,omitempty"`
	Cert            string          `json:"cert,omitempty"`

	// rfc3161
	URL           string `json:"url,omitempty"`
	RequestBase64 string `json:"requestBase64,omitempty"`
	ReplyBase64   string `json:"replyBase64,omitempty"`

	// sigstore_bundle
	BundleJSON string `json:"bundleJson,omitempty"`
}

// IsProof reports whether the token is an actual timestamp proof. Clock and
// none tokens are advisory only.
func (t *Token) IsProof() bool {
	return t.Type == TypeDev || t.Type == TypeRFC3161 || t.Type == TypeSigstore
}
