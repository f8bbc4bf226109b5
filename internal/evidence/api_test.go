package evidence

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/inkform/trustcore/internal/audit"
	"github.com/inkform/trustcore/internal/shared/types"
)

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	svc, _ := newDevService(t)
	r := chi.NewRouter()
	r.Mount("/envelopes", NewHandler(svc).Routes())
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// TestCreateEndpoint tests minting an envelope with a server-assigned id
func TestCreateEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/envelopes/", map[string]any{"title": "Lease"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var event audit.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if _, err := types.ParseID(event.EnvelopeID); err != nil {
		t.Errorf("Expected a UUID envelope id, got %q", event.EnvelopeID)
	}
	if event.Kind != audit.KindEnvelopeCreated {
		t.Errorf("Expected %s, got %s", audit.KindEnvelopeCreated, event.Kind)
	}
	if event.Seq != 0 {
		t.Errorf("Expected genesis seq 0, got %d", event.Seq)
	}
}

// TestSealEndpoint tests the full seal round trip over HTTP
func TestSealEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/envelopes/env-1/seal", validRequest("ignored", "rcpt-1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var ev SigningEvidence
	if err := json.Unmarshal(rec.Body.Bytes(), &ev); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ev.EvidenceID == "" {
		t.Error("Expected evidence id in response")
	}
	// The path parameter wins over any envelope id in the body.
	if ev.Event.EnvelopeID != "env-1" {
		t.Errorf("Expected envelope env-1, got %s", ev.Event.EnvelopeID)
	}
}

// TestSealEndpointRejectsBadRequest tests the error mapping to HTTP status
func TestSealEndpointRejectsBadRequest(t *testing.T) {
	api := newTestAPI(t)

	req := validRequest("env-1", "rcpt-1")
	req.DocumentDigest = "not-a-digest"

	rec := doJSON(t, api, http.MethodPost, "/envelopes/env-1/seal", req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Code != "BAD_REQUEST" {
		t.Errorf("Expected BAD_REQUEST code, got %s", body.Code)
	}
}

// TestEventAndVerifyEndpoints tests recording lifecycle events and
// verifying the chain over HTTP
func TestEventAndVerifyEndpoints(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/envelopes/env-1/events", map[string]any{
		"kind":    "envelope_created",
		"payload": map[string]any{"title": "Lease"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/envelopes/env-1/verify", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var v ChainVerification
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode verification: %v", err)
	}
	if !v.OK {
		t.Error("Expected clean chain")
	}
}

// TestEvidenceEndpoint tests the bundle download and the missing-envelope
// status
func TestEvidenceEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/envelopes/missing/evidence", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing envelope, got %d", rec.Code)
	}

	if rec := doJSON(t, api, http.MethodPost, "/envelopes/env-1/seal", validRequest("env-1", "rcpt-1")); rec.Code != http.StatusCreated {
		t.Fatalf("Seal failed with %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/envelopes/env-1/evidence", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var bundle Bundle
	if err := json.Unmarshal(rec.Body.Bytes(), &bundle); err != nil {
		t.Fatalf("decode bundle: %v", err)
	}
	if len(bundle.Signatures) != 1 {
		t.Errorf("Expected 1 signature in bundle, got %d", len(bundle.Signatures))
	}
}

// TestMalformedBody tests the JSON decode guard
func TestMalformedBody(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/envelopes/env-1/seal", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}
