package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/store"
)

// SignaturesHandler handles captured signatures.
type SignaturesHandler struct {
	DB *sql.DB
}

type createSignatureRequest struct {
	SignatureType string `json:"signature_type"`
	SignatureData string `json:"signature_data"`
}

// List handles GET /api/signatures?user_id=&signature_type=.
func (h *SignaturesHandler) List(w http.ResponseWriter, r *http.Request) {
	sigType := r.URL.Query().Get("signature_type")
	if sigType != "" && !model.ValidSignatureType(sigType) {
		jsonError(w, http.StatusBadRequest, "invalid signature_type")
		return
	}

	sigs, err := store.ListSignatures(r.Context(), h.DB, queryID(r, "user_id"), sigType)
	if err != nil {
		storeError(w, "list signatures", err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(sigs))
}

// Create handles POST /api/signatures. The signature belongs to the caller.
func (h *SignaturesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSignatureRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims := GetClaims(r.Context())
	sig, err := store.CreateSignature(r.Context(), h.DB, claims.UserID, req.SignatureType, req.SignatureData)
	if err != nil {
		storeError(w, "create signature", err)
		return
	}

	slog.Info("signature captured", "user", claims.Username, "id", sig.ID, "type", sig.SignatureType)
	jsonResponse(w, http.StatusCreated, sig)
}

// Get handles GET /api/signatures/{id}.
func (h *SignaturesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid signature id")
		return
	}

	sig, err := store.GetSignature(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, "get signature", err)
		return
	}
	if sig == nil {
		jsonError(w, http.StatusNotFound, "signature not found")
		return
	}
	jsonResponse(w, http.StatusOK, sig)
}

// AuditHandler exposes the audit log (admin only).
type AuditHandler struct {
	DB *sql.DB
}

// List handles GET /api/audit?table=&record_id=&limit=.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := store.ListAudit(r.Context(), h.DB, store.AuditFilter{
		Table:    r.URL.Query().Get("table"),
		RecordID: queryID(r, "record_id"),
		Limit:    queryInt(r, "limit", 0),
	})
	if err != nil {
		storeError(w, "list audit log", err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(entries))
}

// Health handles GET /health.
func Health(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			slog.Error("health check failed", "error", err)
			jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
