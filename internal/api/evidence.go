package api

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/erazemk/custody/internal/imaging"
	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/report"
	"github.com/erazemk/custody/internal/store"
)

// EvidenceHandler handles the evidence registry endpoints.
type EvidenceHandler struct {
	DB *sql.DB
}

type createEvidenceRequest struct {
	CaseNumber         string `json:"case_number"`
	ItemNumber         string `json:"item_number"`
	AutoNumber         bool   `json:"auto_number"`
	ItemTypeID         *int64 `json:"item_type_id"`
	Description        string `json:"description"`
	CollectedDate      string `json:"collected_date"`
	CollectedBy        string `json:"collected_by"`
	CollectionLocation string `json:"collection_location"`
	SerialNumber       string `json:"serial_number"`
	MakeModel          string `json:"make_model"`
	Barcode            string `json:"barcode"`
	ConditionNotes     string `json:"condition_notes"`
	CurrentStatus      string `json:"current_status"`
	CurrentLocationID  *int64 `json:"current_location_id"`
	CurrentCustodianID *int64 `json:"current_custodian_id"`
}

type updateEvidenceRequest struct {
	CaseNumber         *string `json:"case_number"`
	ItemNumber         *string `json:"item_number"`
	ItemTypeID         *int64  `json:"item_type_id"`
	Description        *string `json:"description"`
	CollectedDate      *string `json:"collected_date"`
	CollectedBy        *string `json:"collected_by"`
	CollectionLocation *string `json:"collection_location"`
	SerialNumber       *string `json:"serial_number"`
	MakeModel          *string `json:"make_model"`
	Barcode            *string `json:"barcode"`
	ConditionNotes     *string `json:"condition_notes"`
	CurrentStatus      *string `json:"current_status"`
	CurrentLocationID  *int64  `json:"current_location_id"`
	CurrentCustodianID *int64  `json:"current_custodian_id"`
}

// evidenceDetail is the full view of one item.
type evidenceDetail struct {
	*model.EvidenceItem
	Transfers []model.Transfer `json:"transfers"`
	Notes     []model.Note     `json:"notes"`
	Photos    []model.Photo    `json:"photos"`
}

type noteRequest struct {
	Note string `json:"note"`
}

// filterFromQuery reads the list filters shared by List and Export.
func filterFromQuery(r *http.Request) (store.EvidenceFilter, error) {
	q := r.URL.Query()
	f := store.EvidenceFilter{
		Search:      q.Get("search"),
		CaseNumber:  firstNonEmpty(q.Get("case_number"), q.Get("case")),
		Status:      q.Get("status"),
		LocationID:  queryID(r, "location"),
		ItemTypeID:  queryID(r, "type"),
		CustodianID: queryID(r, "custodian"),
	}
	if f.Status != "" && !model.ValidItemStatus(f.Status) {
		return f, fmt.Errorf("invalid status %q", f.Status)
	}
	return f, nil
}

// List handles GET /api/evidence.
func (h *EvidenceHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := store.ListEvidence(r.Context(), h.DB, f)
	if err != nil {
		storeError(w, "list evidence", err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(items))
}

// Create handles POST /api/evidence.
func (h *EvidenceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEvidenceRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims := GetClaims(r.Context())
	item, err := store.CreateEvidence(r.Context(), h.DB, store.EvidenceInput{
		CaseNumber:         req.CaseNumber,
		ItemNumber:         req.ItemNumber,
		AutoNumber:         req.AutoNumber,
		ItemTypeID:         req.ItemTypeID,
		Description:        req.Description,
		CollectedDate:      req.CollectedDate,
		CollectedBy:        req.CollectedBy,
		CollectionLocation: req.CollectionLocation,
		SerialNumber:       req.SerialNumber,
		MakeModel:          req.MakeModel,
		Barcode:            req.Barcode,
		ConditionNotes:     req.ConditionNotes,
		CurrentStatus:      req.CurrentStatus,
		LocationID:         req.CurrentLocationID,
		CustodianID:        req.CurrentCustodianID,
	}, claims.UserID)
	if err != nil {
		storeError(w, "create evidence item", err)
		return
	}

	slog.Info("evidence item created", "user", claims.Username, "id", item.ID,
		"case", item.CaseNumber, "item", item.ItemNumber)
	jsonResponse(w, http.StatusCreated, item)
}

// Get handles GET /api/evidence/{id}.
func (h *EvidenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	transfers, err := store.ItemHistory(ctx, h.DB, item.ID)
	if err != nil {
		storeError(w, "get item history", err)
		return
	}
	notes, err := store.ListNotes(ctx, h.DB, item.ID)
	if err != nil {
		storeError(w, "list notes", err)
		return
	}
	photos, err := store.ListPhotos(ctx, h.DB, item.ID)
	if err != nil {
		storeError(w, "list photos", err)
		return
	}

	jsonResponse(w, http.StatusOK, evidenceDetail{
		EvidenceItem: item,
		Transfers:    emptyIfNil(transfers),
		Notes:        emptyIfNil(notes),
		Photos:       emptyIfNil(photos),
	})
}

// Update handles PUT and PATCH /api/evidence/{id}. Both are partial: only
// fields present in the body change.
func (h *EvidenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid evidence id")
		return
	}

	var req updateEvidenceRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims := GetClaims(r.Context())
	item, err := store.UpdateEvidence(r.Context(), h.DB, id, store.EvidencePatch{
		CaseNumber:         req.CaseNumber,
		ItemNumber:         req.ItemNumber,
		ItemTypeID:         req.ItemTypeID,
		Description:        req.Description,
		CollectedDate:      req.CollectedDate,
		CollectedBy:        req.CollectedBy,
		CollectionLocation: req.CollectionLocation,
		SerialNumber:       req.SerialNumber,
		MakeModel:          req.MakeModel,
		Barcode:            req.Barcode,
		ConditionNotes:     req.ConditionNotes,
		CurrentStatus:      req.CurrentStatus,
		LocationID:         req.CurrentLocationID,
		CustodianID:        req.CurrentCustodianID,
	}, claims.UserID)
	if err != nil {
		storeError(w, "update evidence item", err)
		return
	}

	slog.Info("evidence item updated", "user", claims.Username, "id", item.ID, "status", item.CurrentStatus)
	jsonResponse(w, http.StatusOK, item)
}

// Delete handles DELETE /api/evidence/{id}.
func (h *EvidenceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid evidence id")
		return
	}

	claims := GetClaims(r.Context())
	if err := store.DeleteEvidence(r.Context(), h.DB, id, claims.UserID); err != nil {
		storeError(w, "delete evidence item", err)
		return
	}

	slog.Info("evidence item deleted", "user", claims.Username, "id", id)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "evidence item deleted"})
}

// History handles GET /api/evidence/{id}/history.
func (h *EvidenceHandler) History(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}

	history, err := store.ItemHistory(r.Context(), h.DB, item.ID)
	if err != nil {
		storeError(w, "get item history", err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(history))
}

// ListNotes handles GET /api/evidence/{id}/notes.
func (h *EvidenceHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}

	notes, err := store.ListNotes(r.Context(), h.DB, item.ID)
	if err != nil {
		storeError(w, "list notes", err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(notes))
}

// AddNote handles POST /api/evidence/{id}/notes.
func (h *EvidenceHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid evidence id")
		return
	}

	var req noteRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims := GetClaims(r.Context())
	note, err := store.AddNote(r.Context(), h.DB, id, req.Note, claims.UserID)
	if err != nil {
		storeError(w, "add note", err)
		return
	}

	slog.Info("evidence note added", "user", claims.Username, "item", id, "note", note.ID)
	jsonResponse(w, http.StatusCreated, note)
}

// ListPhotos handles GET /api/evidence/{id}/photos.
func (h *EvidenceHandler) ListPhotos(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}

	photos, err := store.ListPhotos(r.Context(), h.DB, item.ID)
	if err != nil {
		storeError(w, "list photos", err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(photos))
}

// UploadPhoto handles POST /api/evidence/{id}/photos (multipart field "photo").
func (h *EvidenceHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid evidence id")
		return
	}

	// Leave headroom for the multipart envelope and caption.
	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+(1<<20))

	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("photo")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "photo file required")
		return
	}
	defer file.Close()

	photo, err := imaging.Process(file)
	if err != nil {
		if errors.Is(err, imaging.ErrUnsupported) {
			jsonError(w, http.StatusBadRequest, "photo must be a JPEG or PNG image")
			return
		}
		slog.Error("failed to process photo", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to process photo")
		return
	}

	claims := GetClaims(r.Context())
	caption := strings.TrimSpace(r.FormValue("caption"))
	p, err := store.AddPhoto(r.Context(), h.DB, id, photo.Data, photo.MIME, caption, claims.UserID)
	if err != nil {
		storeError(w, "save photo", err)
		return
	}

	slog.Info("evidence photo added", "user", claims.Username, "item", id, "photo", p.ID,
		"width", photo.Width, "height", photo.Height)
	jsonResponse(w, http.StatusCreated, p)
}

// GetPhoto handles GET /api/evidence/{id}/photos/{photoID}.
func (h *EvidenceHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid evidence id")
		return
	}
	photoID, ok := pathID(r, "photoID")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid photo id")
		return
	}

	data, mime, err := store.GetPhotoImage(r.Context(), h.DB, id, photoID)
	if err != nil {
		storeError(w, "get photo", err)
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "photo not found")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}

// Export handles GET /api/evidence/export.xlsx.
func (h *EvidenceHandler) Export(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := store.ListEvidence(r.Context(), h.DB, f)
	if err != nil {
		storeError(w, "list evidence", err)
		return
	}

	var buf bytes.Buffer
	if err := report.EvidenceRegister(&buf, items); err != nil {
		slog.Error("failed to build evidence register", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to build export")
		return
	}

	name := fmt.Sprintf("evidence_%s.xlsx", time.Now().Format("20060102_150405"))
	writeWorkbook(w, name, buf.Bytes())
}

// CustodyReport handles GET /api/evidence/{id}/custody.xlsx.
func (h *EvidenceHandler) CustodyReport(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}

	history, err := store.ItemHistory(r.Context(), h.DB, item.ID)
	if err != nil {
		storeError(w, "get item history", err)
		return
	}
	// Reports read oldest first.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	var buf bytes.Buffer
	if err := report.CustodyReport(&buf, item, history); err != nil {
		slog.Error("failed to build custody report", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	name := fmt.Sprintf("custody_%s_%s.xlsx", sanitizeFilename(item.CaseNumber), sanitizeFilename(item.ItemNumber))
	writeWorkbook(w, name, buf.Bytes())
}

// loadItem resolves the {id} path parameter, writing 400/404 itself.
func (h *EvidenceHandler) loadItem(w http.ResponseWriter, r *http.Request) (*model.EvidenceItem, bool) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid evidence id")
		return nil, false
	}

	item, err := store.GetEvidence(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, "get evidence item", err)
		return nil, false
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "evidence item not found")
		return nil, false
	}
	return item, true
}

func writeWorkbook(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func sanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
