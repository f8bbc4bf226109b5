package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/inkform/trustcore/internal/audit"
	"github.com/inkform/trustcore/internal/canonical"
	"github.com/inkform/trustcore/internal/shared/errors"
	"github.com/inkform/trustcore/internal/shared/logger"
	"github.com/inkform/trustcore/internal/shared/metrics"
	"github.com/inkform/trustcore/internal/signer"
	"github.com/inkform/trustcore/internal/tsa"
)

// Service glues the trust core together. Construction is explicit from
// configuration; there is no process-wide singleton and no module-load side
// effects.
type Service struct {
	signer  signer.Signer
	stamper tsa.Stamper
	chain   *audit.Chain
}

func NewService(s signer.Signer, st tsa.Stamper, chain *audit.Chain) *Service {
	return &Service{signer: s, stamper: st, chain: chain}
}

// Seal performs one signing act: canonicalize, sign, stamp, chain. If any
// step fails, nothing is appended and the typed error is surfaced; the
// caller retries the whole operation so the TSA genTime reflects the real
// seal moment.
func (s *Service) Seal(ctx context.Context, req *SigningRequest) (*SigningEvidence, error) {
	start := time.Now()
	ctx = logger.WithEnvelope(ctx, req.EnvelopeID)

	ev, err := s.seal(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RecordSeal(s.signer.Provider(), outcome, time.Since(start))
	return ev, err
}

func (s *Service) seal(ctx context.Context, req *SigningRequest) (*SigningEvidence, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	canonicalBytes, err := canonical.Marshal(req)
	if err != nil {
		return nil, err
	}
	requestHash := canonical.HashHex(canonicalBytes)

	sig, err := s.signer.Sign(ctx, canonicalBytes)
	if err != nil {
		return nil, err
	}

	// The canonical request bytes are stamped, not the signature blob: the
	// token proves the request existed by genTime, the signature proves
	// this signer attested it.
	stampStart := time.Now()
	token, err := s.stamper.Stamp(ctx, canonicalBytes, sig)
	metrics.RecordTSAStamp(s.stamper.Mode(), time.Since(stampStart))
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"requestHash":    requestHash,
		"documentDigest": req.DocumentDigest,
		"recipientId":    req.RecipientID,
		"actor":          toTree(req.Actor),
		"intent":         toTree(req.Intent),
		"sig":            toTree(sig),
		"tsa":            toTree(token),
	}
	if req.ClientProvidedAt != "" {
		payload["clientProvidedAt"] = req.ClientProvidedAt
	}

	certChainJSON, err := canonical.Marshal(sig.CertChain)
	if err != nil {
		return nil, err
	}
	tsaTokenJSON, err := canonical.Marshal(token)
	if err != nil {
		return nil, err
	}

	seal := &audit.SealRecord{
		RecipientID:   req.RecipientID,
		Provider:      sig.Provider,
		Algorithm:     sig.Algorithm,
		SignatureBlob: sig.SignatureBlob,
		CertChainJSON: certChainJSON,
		TsaTokenJSON:  tsaTokenJSON,
	}

	event, err := s.chain.AppendSealed(ctx, req.EnvelopeID, audit.KindSignatureSealed, payload, seal)
	if err != nil {
		// The signature and token are discarded with the failed seal.
		return nil, err
	}

	logger.Info(ctx, "signing evidence sealed",
		"evidence_id", event.EventHash,
		"provider", sig.Provider,
		"tsa_type", token.Type,
		"seq", event.Seq,
	)

	return &SigningEvidence{
		EvidenceID: event.EventHash,
		Event:      event,
		Sig:        sig,
		Tsa:        token,
	}, nil
}

// Record appends a lifecycle event (envelope_created, recipient_added,
// document_viewed, ...) through the same chain as seals.
func (s *Service) Record(ctx context.Context, envelopeID, kind string, payload map[string]any) (*audit.Event, error) {
	if envelopeID == "" {
		return nil, errors.BadRequest("envelopeId is required")
	}
	if kind == "" {
		return nil, errors.BadRequest("kind is required")
	}
	return s.chain.Append(ctx, envelopeID, kind, payload)
}

// Verify recomputes the envelope's chain and surfaces warnings for
// non-production evidence.
func (s *Service) Verify(ctx context.Context, envelopeID string) (*ChainVerification, error) {
	v, err := s.chain.Verify(ctx, envelopeID)
	if err != nil {
		return nil, err
	}

	out := &ChainVerification{OK: v.OK, FirstBadSeq: v.FirstBadSeq}

	seals, err := s.chain.Seals(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	devWarned, clockWarned := false, false
	for _, seal := range seals {
		if seal.Provider == signer.ProviderDev && !devWarned {
			out.Warnings = append(out.Warnings,
				"evidence was produced by the non-production dev signer; signatures are not verifiable across restarts")
			devWarned = true
		}
		var token tsa.Token
		if err := json.Unmarshal(seal.TsaTokenJSON, &token); err == nil {
			if !token.IsProof() && !clockWarned {
				out.Warnings = append(out.Warnings,
					"timestamp token is advisory only, not a timestamp proof")
				clockWarned = true
			}
		}
	}
	return out, nil
}

// Export builds the evidence bundle for audit download and records the
// retrieval on the chain.
func (s *Service) Export(ctx context.Context, envelopeID string) (*Bundle, error) {
	chain, err := s.chain.Export(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, errors.NotFound("envelope chain", envelopeID)
	}

	seals, err := s.chain.Seals(ctx, envelopeID)
	if err != nil {
		return nil, err
	}

	bundle := &Bundle{
		EnvelopeID: envelopeID,
		Chain:      chain,
		Signatures: make([]SealedSignature, 0, len(seals)),
	}

	for _, e := range chain {
		if e.Kind == audit.KindSignatureSealed {
			if digest, ok := e.Payload["documentDigest"].(string); ok {
				bundle.DocumentDigest = digest
			}
		}
	}

	for _, seal := range seals {
		sig := &signer.Bundle{
			Provider:      seal.Provider,
			Algorithm:     seal.Algorithm,
			SignatureBlob: seal.SignatureBlob,
		}
		_ = json.Unmarshal(seal.CertChainJSON, &sig.CertChain)

		var token tsa.Token
		_ = json.Unmarshal(seal.TsaTokenJSON, &token)

		bundle.Signatures = append(bundle.Signatures, SealedSignature{
			EvidenceID:  seal.EvidenceID,
			RecipientID: seal.RecipientID,
			Sig:         sig,
			Tsa:         &token,
		})
	}

	if _, err := s.chain.Append(ctx, envelopeID, audit.KindEvidenceRetrieved, map[string]any{
		"exportedEvents": len(chain),
	}); err != nil {
		return nil, err
	}

	return bundle, nil
}

// toTree converts a typed value into the generic JSON tree used in event
// payloads, preserving numeric literals.
func toTree(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil
	}
	return tree
}
