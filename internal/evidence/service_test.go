package evidence

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/inkform/trustcore/internal/audit"
	"github.com/inkform/trustcore/internal/canonical"
	"github.com/inkform/trustcore/internal/shared/errors"
	"github.com/inkform/trustcore/internal/signer"
	"github.com/inkform/trustcore/internal/tsa"
)

const testDigest = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func validRequest(envelopeID, recipientID string) *SigningRequest {
	return &SigningRequest{
		EnvelopeID:     envelopeID,
		RecipientID:    recipientID,
		DocumentDigest: testDigest,
		Fields:         []Field{{Name: "signature", Value: "Ana K."}},
		Actor: Actor{
			DisplayName: "Ana K.",
			Email:       "ana@example.rs",
			IPAddress:   "203.0.113.7",
		},
		Intent: Intent{
			DeclarationText: "I agree to be legally bound by this document.",
			ConsentGivenAt:  "2026-03-01T12:00:00Z",
		},
	}
}

func newDevService(t *testing.T) (*Service, *audit.MemoryRepository) {
	t.Helper()
	dev, err := signer.NewDevSigner()
	if err != nil {
		t.Fatalf("NewDevSigner failed: %v", err)
	}
	repo := audit.NewMemoryRepository()
	chain := audit.NewChain(repo)
	return NewService(dev, tsa.NewDevStamper(dev, "1.3.6.1.4.1.99999.1.1"), chain), repo
}

// TestSealDevEvidence tests the complete dev seal: signature, token, and
// chained event
func TestSealDevEvidence(t *testing.T) {
	svc, _ := newDevService(t)
	req := validRequest("env-1", "rcpt-1")

	ev, err := svc.Seal(context.Background(), req)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if ev.EvidenceID != ev.Event.EventHash {
		t.Errorf("Evidence id %s does not equal event hash %s", ev.EvidenceID, ev.Event.EventHash)
	}
	if ev.Event.Kind != audit.KindSignatureSealed {
		t.Errorf("Expected kind %s, got %s", audit.KindSignatureSealed, ev.Event.Kind)
	}
	if ev.Event.Seq != 0 {
		t.Errorf("Expected seq 0 on a fresh envelope, got %d", ev.Event.Seq)
	}

	if ev.Sig.Provider != signer.ProviderDev {
		t.Errorf("Expected dev provider, got %s", ev.Sig.Provider)
	}
	if ev.Tsa.Type != tsa.TypeDev {
		t.Errorf("Expected dev TSA token, got %s", ev.Tsa.Type)
	}

	// The signature covers the canonical request bytes.
	canonicalBytes, err := canonical.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if len(ev.Sig.CertChain) != 1 {
		t.Fatalf("Expected one cert entry, got %d", len(ev.Sig.CertChain))
	}
	if err := signer.VerifyDev(ev.Sig.CertChain[0].PublicKey, canonicalBytes, ev.Sig.SignatureBlob); err != nil {
		t.Errorf("Signature does not cover the canonical request: %v", err)
	}

	// The event payload carries the evidence fields.
	payload := ev.Event.Payload
	if payload["requestHash"] != canonical.HashHex(canonicalBytes) {
		t.Error("Payload requestHash does not match the canonical request")
	}
	if payload["documentDigest"] != testDigest {
		t.Error("Payload documentDigest missing")
	}
	if payload["recipientId"] != "rcpt-1" {
		t.Error("Payload recipientId missing")
	}
	for _, key := range []string{"actor", "intent", "sig", "tsa"} {
		if payload[key] == nil {
			t.Errorf("Payload %s missing", key)
		}
	}
}

// TestSealValidation tests that malformed requests are rejected before any
// side effect
func TestSealValidation(t *testing.T) {
	svc, repo := newDevService(t)

	cases := []struct {
		name string
		mod  func(*SigningRequest)
	}{
		{"missing envelope", func(r *SigningRequest) { r.EnvelopeID = "" }},
		{"missing recipient", func(r *SigningRequest) { r.RecipientID = "" }},
		{"empty digest", func(r *SigningRequest) { r.DocumentDigest = "" }},
		{"short digest", func(r *SigningRequest) { r.DocumentDigest = "abc123" }},
		{"uppercase digest", func(r *SigningRequest) { r.DocumentDigest = strings.ToUpper(testDigest) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest("env-1", "rcpt-1")
			tc.mod(req)

			_, err := svc.Seal(context.Background(), req)
			if !errors.Is(err, errors.ErrBadRequest) {
				t.Errorf("Expected ErrBadRequest, got %v", err)
			}
		})
	}

	events, _ := repo.List(context.Background(), "env-1")
	if len(events) != 0 {
		t.Errorf("Expected no events after rejected requests, got %d", len(events))
	}
}

// TestSealStamperFailureAppendsNothing tests that a TSA failure discards
// the signature and leaves the chain untouched
func TestSealStamperFailureAppendsNothing(t *testing.T) {
	dev, err := signer.NewDevSigner()
	if err != nil {
		t.Fatalf("NewDevSigner failed: %v", err)
	}
	repo := audit.NewMemoryRepository()
	svc := NewService(dev, &failingStamper{}, audit.NewChain(repo))

	_, err = svc.Seal(context.Background(), validRequest("env-1", "rcpt-1"))
	if !errors.Is(err, errors.ErrTsaUnavailable) {
		t.Fatalf("Expected ErrTsaUnavailable, got %v", err)
	}

	events, _ := repo.List(context.Background(), "env-1")
	if len(events) != 0 {
		t.Errorf("Expected no events, got %d", len(events))
	}
	seals, _ := repo.Seals(context.Background(), "env-1")
	if len(seals) != 0 {
		t.Errorf("Expected no seals, got %d", len(seals))
	}
}

// TestSealDeadline tests that a slow signer is cut off at the context
// deadline with no partial evidence
func TestSealDeadline(t *testing.T) {
	repo := audit.NewMemoryRepository()
	svc := NewService(&slowSigner{delay: time.Second}, &tsa.NoneStamper{}, audit.NewChain(repo))

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	_, err := svc.Seal(ctx, validRequest("env-1", "rcpt-1"))
	if !errors.Is(err, errors.ErrSignerTimeout) {
		t.Fatalf("Expected ErrSignerTimeout, got %v", err)
	}

	events, _ := repo.List(context.Background(), "env-1")
	if len(events) != 0 {
		t.Errorf("Expected no events, got %d", len(events))
	}
}

// TestVerifyWarnsOnDevEvidence tests the dev-provider and advisory-token
// warnings
func TestVerifyWarnsOnDevEvidence(t *testing.T) {
	dev, err := signer.NewDevSigner()
	if err != nil {
		t.Fatalf("NewDevSigner failed: %v", err)
	}
	repo := audit.NewMemoryRepository()
	svc := NewService(dev, &tsa.NoneStamper{}, audit.NewChain(repo))

	if _, err := svc.Seal(context.Background(), validRequest("env-1", "rcpt-1")); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	v, err := svc.Verify(context.Background(), "env-1")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !v.OK {
		t.Errorf("Expected clean chain, got firstBadSeq=%v", v.FirstBadSeq)
	}
	if len(v.Warnings) != 2 {
		t.Fatalf("Expected dev and advisory warnings, got %v", v.Warnings)
	}
}

// TestVerifyDetectsTamper tests that a mutated payload is reported with its
// sequence number
func TestVerifyDetectsTamper(t *testing.T) {
	svc, repo := newDevService(t)
	ctx := context.Background()

	if _, err := svc.Record(ctx, "env-1", audit.KindEnvelopeCreated, nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, err := svc.Seal(ctx, validRequest("env-1", "rcpt-1")); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	repo.Tamper("env-1", 1, map[string]any{"forged": true})

	v, err := svc.Verify(ctx, "env-1")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if v.OK {
		t.Fatal("Expected tamper to be detected")
	}
	if v.FirstBadSeq == nil || *v.FirstBadSeq != 1 {
		t.Errorf("Expected firstBadSeq 1, got %v", v.FirstBadSeq)
	}
}

// TestExportBundle tests the evidence bundle contents and the retrieval
// event
func TestExportBundle(t *testing.T) {
	svc, _ := newDevService(t)
	ctx := context.Background()

	if _, err := svc.Record(ctx, "env-1", audit.KindEnvelopeCreated, map[string]any{"title": "Lease"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	ev, err := svc.Seal(ctx, validRequest("env-1", "rcpt-1"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	bundle, err := svc.Export(ctx, "env-1")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if bundle.EnvelopeID != "env-1" {
		t.Errorf("Unexpected envelope id %s", bundle.EnvelopeID)
	}
	if bundle.DocumentDigest != testDigest {
		t.Errorf("Expected document digest %s, got %s", testDigest, bundle.DocumentDigest)
	}
	if len(bundle.Chain) != 2 {
		t.Errorf("Expected 2 chained events, got %d", len(bundle.Chain))
	}
	if len(bundle.Signatures) != 1 {
		t.Fatalf("Expected 1 signature, got %d", len(bundle.Signatures))
	}
	sig := bundle.Signatures[0]
	if sig.EvidenceID != ev.EvidenceID {
		t.Errorf("Expected evidence id %s, got %s", ev.EvidenceID, sig.EvidenceID)
	}
	if sig.Tsa == nil || sig.Tsa.Type != tsa.TypeDev {
		t.Error("Expected dev TSA token in bundle")
	}

	// The export itself is recorded on the chain.
	head, err := svc.chain.Head(ctx, "env-1")
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if head.Kind != audit.KindEvidenceRetrieved {
		t.Errorf("Expected evidence_retrieved head, got %s", head.Kind)
	}
}

// TestExportMissingEnvelope tests the not-found path
func TestExportMissingEnvelope(t *testing.T) {
	svc, _ := newDevService(t)

	_, err := svc.Export(context.Background(), "no-such-envelope")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// TestConcurrentSeals tests parallel seals across shared envelopes staying
// contiguous and verifiable
func TestConcurrentSeals(t *testing.T) {
	svc, _ := newDevService(t)
	ctx := context.Background()

	const workers = 10
	const perWorker = 10
	const envelopes = 10

	var wg sync.WaitGroup
	errCh := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				env := fmt.Sprintf("env-%d", (w+i)%envelopes)
				req := validRequest(env, fmt.Sprintf("rcpt-%d-%d", w, i))
				if _, err := svc.Seal(ctx, req); err != nil {
					errCh <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("Concurrent seal failed: %v", err)
	}

	total := 0
	for i := 0; i < envelopes; i++ {
		env := fmt.Sprintf("env-%d", i)
		events, err := svc.chain.Export(ctx, env)
		if err != nil {
			t.Fatalf("Export %s failed: %v", env, err)
		}
		for j, e := range events {
			if e.Seq != int64(j) {
				t.Fatalf("Sequence gap in %s at index %d", env, j)
			}
		}
		total += len(events)

		v, err := svc.Verify(ctx, env)
		if err != nil {
			t.Fatalf("Verify %s failed: %v", env, err)
		}
		if !v.OK {
			t.Errorf("Chain %s corrupt after concurrent seals", env)
		}
	}
	if total != workers*perWorker {
		t.Errorf("Expected %d sealed events, got %d", workers*perWorker, total)
	}
}

// TestRecordRequiresIdentifiers tests the lifecycle event validation
func TestRecordRequiresIdentifiers(t *testing.T) {
	svc, _ := newDevService(t)
	ctx := context.Background()

	if _, err := svc.Record(ctx, "", audit.KindEnvelopeCreated, nil); !errors.Is(err, errors.ErrBadRequest) {
		t.Errorf("Expected ErrBadRequest for empty envelope, got %v", err)
	}
	if _, err := svc.Record(ctx, "env-1", "", nil); !errors.Is(err, errors.ErrBadRequest) {
		t.Errorf("Expected ErrBadRequest for empty kind, got %v", err)
	}
}

// failingStamper simulates an unreachable timestamp authority.
type failingStamper struct{}

func (s *failingStamper) Mode() string { return "rfc3161" }

func (s *failingStamper) Stamp(ctx context.Context, payload []byte, sig *signer.Bundle) (*tsa.Token, error) {
	return nil, errors.TsaUnavailable(fmt.Errorf("connection refused"))
}

// slowSigner blocks until its delay elapses or the context expires.
type slowSigner struct {
	delay time.Duration
}

func (s *slowSigner) Provider() string { return "external_cli" }

func (s *slowSigner) Sign(ctx context.Context, payload []byte) (*signer.Bundle, error) {
	select {
	case <-time.After(s.delay):
		return &signer.Bundle{Provider: "external_cli", SignatureBlob: "c2ln"}, nil
	case <-ctx.Done():
		return nil, errors.SignerTimeout(ctx.Err())
	}
}
