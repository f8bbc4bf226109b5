package evidence

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/inkform/trustcore/internal/audit"
	"github.com/inkform/trustcore/internal/shared/errors"
	"github.com/inkform/trustcore/internal/shared/types"
)

// Handler provides HTTP handlers for the evidence module
type Handler struct {
	service *Service
}

// NewHandler creates a new evidence handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the envelope evidence routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Route("/{envelopeID}", func(r chi.Router) {
		r.Post("/seal", h.Seal)
		r.Post("/events", h.RecordEvent)
		r.Get("/verify", h.Verify)
		r.Get("/evidence", h.Export)
	})

	return r
}

// Create mints a new envelope id and chains its genesis event
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	envelopeID := types.NewID()
	payload := map[string]any{}
	if body.Title != "" {
		payload["title"] = body.Title
	}

	event, err := h.service.Record(r.Context(), envelopeID.String(), audit.KindEnvelopeCreated, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// Seal performs a signing act for an envelope
func (h *Handler) Seal(w http.ResponseWriter, r *http.Request) {
	var req SigningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	req.EnvelopeID = chi.URLParam(r, "envelopeID")

	ev, err := h.service.Seal(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// RecordEvent appends a lifecycle event to an envelope's chain
func (h *Handler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind    string         `json:"kind"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	event, err := h.service.Record(r.Context(), chi.URLParam(r, "envelopeID"), body.Kind, body.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// Verify recomputes the envelope's audit chain
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Verify(r.Context(), chi.URLParam(r, "envelopeID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Export returns the envelope's evidence bundle
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.service.Export(r.Context(), chi.URLParam(r, "envelopeID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		appErr = errors.Internal(err)
	}
	writeJSON(w, appErr.HTTPStatus, appErr)
}
