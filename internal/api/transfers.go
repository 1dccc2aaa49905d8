package api

import (
	"bytes"
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/report"
	"github.com/erazemk/custody/internal/store"
)

// TransfersHandler handles custody transfer endpoints.
type TransfersHandler struct {
	DB *sql.DB
}

type createTransferRequest struct {
	EvidenceItemID   int64  `json:"evidence_item_id"`
	TransferType     string `json:"transfer_type"`
	TransferReasonID *int64 `json:"transfer_reason_id"`
	ReasonText       string `json:"transfer_reason_text"`
	ToCustodianID    *int64 `json:"to_custodian_id"`
	ToLocationID     *int64 `json:"to_location_id"`
	FromSignatureID  *int64 `json:"from_signature_id"`
	ToSignatureID    *int64 `json:"to_signature_id"`
	ConditionNotes   string `json:"condition_notes"`
	Notes            string `json:"notes"`
}

// updateTransferRequest either resolves (action set) or edits a pending transfer.
type updateTransferRequest struct {
	Action          string  `json:"action"`
	RejectionReason string  `json:"rejection_reason"`
	Notes           *string `json:"notes"`
	ConditionNotes  *string `json:"condition_notes"`
	FromSignatureID *int64  `json:"from_signature_id"`
	ToSignatureID   *int64  `json:"to_signature_id"`
}

// Create handles POST /api/transfers.
func (h *TransfersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.EvidenceItemID <= 0 || req.TransferType == "" {
		jsonError(w, http.StatusBadRequest, "evidence_item_id and transfer_type required")
		return
	}

	claims := GetClaims(r.Context())
	t, err := store.CreateTransfer(r.Context(), h.DB, store.TransferInput{
		EvidenceItemID:   req.EvidenceItemID,
		TransferType:     req.TransferType,
		TransferReasonID: req.TransferReasonID,
		ReasonText:       req.ReasonText,
		ToCustodianID:    req.ToCustodianID,
		ToLocationID:     req.ToLocationID,
		FromSignatureID:  req.FromSignatureID,
		ToSignatureID:    req.ToSignatureID,
		ConditionNotes:   req.ConditionNotes,
		Notes:            req.Notes,
	}, claims.UserID)
	if err != nil {
		storeError(w, "create transfer", err)
		return
	}

	transfersCreated.WithLabelValues(t.TransferType, t.Status).Inc()
	slog.Info("transfer created", "user", claims.Username, "item", t.EvidenceItemID,
		"receipt", t.ReceiptNumber, "type", t.TransferType, "status", t.Status)
	jsonResponse(w, http.StatusCreated, t)
}

// List handles GET /api/transfers. The unpaginated match count is returned in
// the X-Total-Count header.
func (h *TransfersHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.TransferFilter{
		EvidenceItemID: queryID(r, "evidence_item_id"),
		Status:         q.Get("status"),
		TransferType:   q.Get("transfer_type"),
		CustodianID:    queryID(r, "custodian"),
		Limit:          queryInt(r, "limit", 0),
		Offset:         queryInt(r, "offset", 0),
	}
	if f.Status != "" && !model.ValidTransferStatus(f.Status) {
		jsonError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if f.TransferType != "" && !model.ValidTransferType(f.TransferType) {
		jsonError(w, http.StatusBadRequest, "invalid transfer_type")
		return
	}

	transfers, total, err := store.ListTransfers(r.Context(), h.DB, f)
	if err != nil {
		storeError(w, "list transfers", err)
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	jsonResponse(w, http.StatusOK, emptyIfNil(transfers))
}

// Get handles GET /api/transfers/{id}.
func (h *TransfersHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTransfer(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, t)
}

// Update handles PUT /api/transfers/{id}. With an action it approves or
// rejects (supervisor+); without one it edits a pending transfer.
func (h *TransfersHandler) Update(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTransfer(w, r)
	if !ok {
		return
	}

	var req updateTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims := GetClaims(r.Context())

	if req.Action != "" {
		if !model.RoleAtLeast(claims.Role, model.RoleSupervisor) {
			jsonError(w, http.StatusForbidden, "insufficient permissions")
			return
		}

		resolved, err := store.ResolveTransfer(r.Context(), h.DB, t.ID, req.Action, req.RejectionReason, claims.UserID)
		if err != nil {
			storeError(w, "resolve transfer", err)
			return
		}

		transfersResolved.WithLabelValues(req.Action).Inc()
		slog.Info("transfer resolved", "user", claims.Username, "receipt", resolved.ReceiptNumber,
			"action", req.Action, "status", resolved.Status)
		jsonResponse(w, http.StatusOK, resolved)
		return
	}

	if !canManage(claims.UserID, claims.Role, t) {
		jsonError(w, http.StatusForbidden, "only the initiator or a supervisor can edit this transfer")
		return
	}

	updated, err := store.UpdateTransfer(r.Context(), h.DB, t.ID, store.TransferPatch{
		Notes:           req.Notes,
		ConditionNotes:  req.ConditionNotes,
		FromSignatureID: req.FromSignatureID,
		ToSignatureID:   req.ToSignatureID,
	}, claims.UserID)
	if err != nil {
		storeError(w, "update transfer", err)
		return
	}

	slog.Info("transfer updated", "user", claims.Username, "receipt", updated.ReceiptNumber)
	jsonResponse(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/transfers/{id}.
func (h *TransfersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTransfer(w, r)
	if !ok {
		return
	}

	claims := GetClaims(r.Context())
	if !canManage(claims.UserID, claims.Role, t) {
		jsonError(w, http.StatusForbidden, "only the initiator or a supervisor can delete this transfer")
		return
	}

	if err := store.DeleteTransfer(r.Context(), h.DB, t.ID, claims.UserID); err != nil {
		storeError(w, "delete transfer", err)
		return
	}

	slog.Info("transfer deleted", "user", claims.Username, "receipt", t.ReceiptNumber, "status", t.Status)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "transfer deleted"})
}

// Receipt handles GET /api/transfers/{id}/receipt.xlsx.
func (h *TransfersHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTransfer(w, r)
	if !ok {
		return
	}

	item, err := store.GetEvidence(r.Context(), h.DB, t.EvidenceItemID)
	if err != nil {
		storeError(w, "get evidence item", err)
		return
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "evidence item not found")
		return
	}

	var sigs [2]*model.Signature
	for i, id := range []*int64{t.FromSignatureID, t.ToSignatureID} {
		if id == nil {
			continue
		}
		if sigs[i], err = store.GetSignature(r.Context(), h.DB, *id); err != nil {
			storeError(w, "get signature", err)
			return
		}
	}

	var buf bytes.Buffer
	if err := report.TransferReceipt(&buf, t, item, sigs[0], sigs[1]); err != nil {
		slog.Error("failed to build transfer receipt", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to build receipt")
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("transfer receipt generated", "user", claims.Username, "receipt", t.ReceiptNumber)
	writeWorkbook(w, "receipt_"+sanitizeFilename(t.ReceiptNumber)+".xlsx", buf.Bytes())
}

func (h *TransfersHandler) loadTransfer(w http.ResponseWriter, r *http.Request) (*model.Transfer, bool) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid transfer id")
		return nil, false
	}

	t, err := store.GetTransfer(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, "get transfer", err)
		return nil, false
	}
	if t == nil {
		jsonError(w, http.StatusNotFound, "transfer not found")
		return nil, false
	}
	return t, true
}

// canManage reports whether a user may edit or delete t.
func canManage(userID int64, role string, t *model.Transfer) bool {
	if model.RoleAtLeast(role, model.RoleSupervisor) {
		return true
	}
	return t.InitiatedBy != nil && *t.InitiatedBy == userID
}
