package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/store"
)

var errBadBody = errors.New("invalid request body")

// lookupResource is the CRUD surface shared by every lookup table. decode
// fills a request struct from the body.
type lookupResource interface {
	list(ctx context.Context, db *sql.DB, all bool) (any, error)
	get(ctx context.Context, db *sql.DB, id int64) (any, bool, error)
	create(ctx context.Context, db *sql.DB, decode func(any) error) (any, error)
	update(ctx context.Context, db *sql.DB, id int64, decode func(any) error) (any, error)
	remove(ctx context.Context, db *sql.DB, id int64) error
}

// lookupKinds is the closed set of lookup tables exposed under /api/lookups.
var lookupKinds = map[string]lookupResource{
	model.LookupItemTypes:       itemTypes{},
	model.LookupLocations:       locations{},
	model.LookupTransferReasons: transferReasons{},
}

// LookupsHandler serves /api/lookups/{kind}.
type LookupsHandler struct {
	DB *sql.DB
}

func (h *LookupsHandler) resource(w http.ResponseWriter, r *http.Request) (string, lookupResource, bool) {
	kind := chi.URLParam(r, "kind")
	res, ok := lookupKinds[kind]
	if !ok {
		jsonError(w, http.StatusNotFound, "unknown lookup type")
		return "", nil, false
	}
	return kind, res, true
}

func bodyDecoder(r *http.Request) func(any) error {
	return func(v any) error {
		if err := decodeJSON(r, v); err != nil {
			return errBadBody
		}
		return nil
	}
}

func lookupError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, errBadBody) {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	storeError(w, op, err)
}

// List handles GET /api/lookups/{kind}. Inactive rows are included with ?all=true.
func (h *LookupsHandler) List(w http.ResponseWriter, r *http.Request) {
	kind, res, ok := h.resource(w, r)
	if !ok {
		return
	}
	rows, err := res.list(r.Context(), h.DB, r.URL.Query().Get("all") == "true")
	if err != nil {
		storeError(w, "list "+kind, err)
		return
	}
	jsonResponse(w, http.StatusOK, rows)
}

// Get handles GET /api/lookups/{kind}/{id}.
func (h *LookupsHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind, res, ok := h.resource(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid id")
		return
	}

	row, found, err := res.get(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, "get "+kind, err)
		return
	}
	if !found {
		jsonError(w, http.StatusNotFound, "not found")
		return
	}
	jsonResponse(w, http.StatusOK, row)
}

// Create handles POST /api/lookups/{kind}.
func (h *LookupsHandler) Create(w http.ResponseWriter, r *http.Request) {
	kind, res, ok := h.resource(w, r)
	if !ok {
		return
	}
	row, err := res.create(r.Context(), h.DB, bodyDecoder(r))
	if err != nil {
		lookupError(w, "create "+kind, err)
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("lookup created", "user", claims.Username, "kind", kind)
	jsonResponse(w, http.StatusCreated, row)
}

// Update handles PATCH /api/lookups/{kind}/{id}.
func (h *LookupsHandler) Update(w http.ResponseWriter, r *http.Request) {
	kind, res, ok := h.resource(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid id")
		return
	}

	row, err := res.update(r.Context(), h.DB, id, bodyDecoder(r))
	if err != nil {
		lookupError(w, "update "+kind, err)
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("lookup updated", "user", claims.Username, "kind", kind, "id", id)
	jsonResponse(w, http.StatusOK, row)
}

// Delete handles DELETE /api/lookups/{kind}/{id}.
func (h *LookupsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	kind, res, ok := h.resource(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := res.remove(r.Context(), h.DB, id); err != nil {
		storeError(w, "delete "+kind, err)
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("lookup deleted", "user", claims.Username, "kind", kind, "id", id)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "deleted"})
}

type itemTypes struct{}

func (itemTypes) list(ctx context.Context, db *sql.DB, all bool) (any, error) {
	rows, err := store.ListItemTypes(ctx, db, all)
	return emptyIfNil(rows), err
}

func (itemTypes) get(ctx context.Context, db *sql.DB, id int64) (any, bool, error) {
	t, err := store.GetItemType(ctx, db, id)
	return t, t != nil, err
}

func (itemTypes) create(ctx context.Context, db *sql.DB, decode func(any) error) (any, error) {
	var req struct {
		Name     string `json:"name"`
		Category string `json:"category"`
	}
	if err := decode(&req); err != nil {
		return nil, err
	}
	return store.CreateItemType(ctx, db, req.Name, req.Category)
}

func (itemTypes) update(ctx context.Context, db *sql.DB, id int64, decode func(any) error) (any, error) {
	var req struct {
		Name     *string `json:"name"`
		Category *string `json:"category"`
		Active   *bool   `json:"active"`
	}
	if err := decode(&req); err != nil {
		return nil, err
	}
	return store.UpdateItemType(ctx, db, id, store.ItemTypePatch{Name: req.Name, Category: req.Category, Active: req.Active})
}

func (itemTypes) remove(ctx context.Context, db *sql.DB, id int64) error {
	return store.DeleteItemType(ctx, db, id)
}

type locations struct{}

func (locations) list(ctx context.Context, db *sql.DB, all bool) (any, error) {
	rows, err := store.ListLocations(ctx, db, all)
	return emptyIfNil(rows), err
}

func (locations) get(ctx context.Context, db *sql.DB, id int64) (any, bool, error) {
	l, err := store.GetLocation(ctx, db, id)
	return l, l != nil, err
}

func (locations) create(ctx context.Context, db *sql.DB, decode func(any) error) (any, error) {
	var req struct {
		Name     string `json:"name"`
		Building string `json:"building"`
		Room     string `json:"room"`
		Capacity *int64 `json:"capacity"`
		Notes    string `json:"notes"`
	}
	if err := decode(&req); err != nil {
		return nil, err
	}
	return store.CreateLocation(ctx, db, &model.Location{
		Name:     req.Name,
		Building: req.Building,
		Room:     req.Room,
		Capacity: req.Capacity,
		Notes:    req.Notes,
	})
}

func (locations) update(ctx context.Context, db *sql.DB, id int64, decode func(any) error) (any, error) {
	var req struct {
		Name     *string `json:"name"`
		Building *string `json:"building"`
		Room     *string `json:"room"`
		Capacity *int64  `json:"capacity"`
		Notes    *string `json:"notes"`
		Active   *bool   `json:"active"`
	}
	if err := decode(&req); err != nil {
		return nil, err
	}
	return store.UpdateLocation(ctx, db, id, store.LocationPatch{
		Name:     req.Name,
		Building: req.Building,
		Room:     req.Room,
		Capacity: req.Capacity,
		Notes:    req.Notes,
		Active:   req.Active,
	})
}

func (locations) remove(ctx context.Context, db *sql.DB, id int64) error {
	return store.DeleteLocation(ctx, db, id)
}

type transferReasons struct{}

func (transferReasons) list(ctx context.Context, db *sql.DB, all bool) (any, error) {
	rows, err := store.ListTransferReasons(ctx, db, all)
	return emptyIfNil(rows), err
}

func (transferReasons) get(ctx context.Context, db *sql.DB, id int64) (any, bool, error) {
	tr, err := store.GetTransferReason(ctx, db, id)
	return tr, tr != nil, err
}

func (transferReasons) create(ctx context.Context, db *sql.DB, decode func(any) error) (any, error) {
	var req struct {
		Reason           string `json:"reason"`
		RequiresApproval bool   `json:"requires_approval"`
	}
	if err := decode(&req); err != nil {
		return nil, err
	}
	return store.CreateTransferReason(ctx, db, req.Reason, req.RequiresApproval)
}

func (transferReasons) update(ctx context.Context, db *sql.DB, id int64, decode func(any) error) (any, error) {
	var req struct {
		Reason           *string `json:"reason"`
		RequiresApproval *bool   `json:"requires_approval"`
		Active           *bool   `json:"active"`
	}
	if err := decode(&req); err != nil {
		return nil, err
	}
	return store.UpdateTransferReason(ctx, db, id, store.TransferReasonPatch{
		Reason:           req.Reason,
		RequiresApproval: req.RequiresApproval,
		Active:           req.Active,
	})
}

func (transferReasons) remove(ctx context.Context, db *sql.DB, id int64) error {
	return store.DeleteTransferReason(ctx, db, id)
}
