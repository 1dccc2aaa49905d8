package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/report"
)

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func locationByName(t *testing.T, env *testEnv, name string) int64 {
	t.Helper()
	var rows []model.Location
	env.do(t, "GET", "/api/lookups/locations?all=true", env.admin, nil, &rows)
	for _, l := range rows {
		if l.Name == name {
			return l.ID
		}
	}
	t.Fatalf("location %q not found", name)
	return 0
}

func reasonByText(t *testing.T, env *testEnv, text string) int64 {
	t.Helper()
	var rows []model.TransferReason
	env.do(t, "GET", "/api/lookups/transfer-reasons?all=true", env.admin, nil, &rows)
	for _, r := range rows {
		if r.Reason == text {
			return r.ID
		}
	}
	t.Fatalf("transfer reason %q not found", text)
	return 0
}

func (e *testEnv) createItem(t *testing.T, caseNo, itemNo string) model.EvidenceItem {
	t.Helper()
	var item model.EvidenceItem
	code := e.do(t, "POST", "/api/evidence", e.admin, map[string]any{
		"case_number": caseNo, "item_number": itemNo, "description": "seized device",
	}, &item)
	if code != http.StatusCreated {
		t.Fatalf("create item %s/%s: %d", caseNo, itemNo, code)
	}
	return item
}

func (e *testEnv) getItem(t *testing.T, id int64) evidenceView {
	t.Helper()
	var v evidenceView
	if code := e.do(t, "GET", "/api/evidence/"+itoa(id), e.admin, nil, &v); code != http.StatusOK {
		t.Fatalf("get item %d: %d", id, code)
	}
	return v
}

// evidenceView mirrors the detail response.
type evidenceView struct {
	model.EvidenceItem
	Transfers []model.Transfer `json:"transfers"`
	Notes     []model.Note     `json:"notes"`
	Photos    []model.Photo    `json:"photos"`
}

func TestTransferWorkflowScenario(t *testing.T) {
	env := setupTestServer(t)
	custodian := env.createUser(t, "keeper", model.RoleAnalyst)
	env.createUser(t, "sup", model.RoleSupervisor)
	supToken := env.login(t, "sup")

	roomB := locationByName(t, env, "Evidence Room B")
	lab := locationByName(t, env, "Forensic Lab")
	immediate := reasonByText(t, env, "Transfer Between Locations")
	gated := reasonByText(t, env, "Court Presentation")

	item := env.createItem(t, "2024-1", "A-1")
	if item.CurrentCustodianID != nil || item.CurrentStatus != model.ItemStatusStored {
		t.Fatalf("unexpected new item: %+v", item)
	}

	// Receipt without approval completes and moves the item.
	var first model.Transfer
	code := env.do(t, "POST", "/api/transfers", env.admin, map[string]any{
		"evidence_item_id": item.ID, "transfer_type": "receipt", "transfer_reason_id": immediate,
		"to_custodian_id": custodian.ID, "to_location_id": roomB,
	}, &first)
	if code != http.StatusCreated {
		t.Fatalf("create transfer: %d", code)
	}
	if first.Status != model.TransferStatusCompleted || first.RequiresApproval || first.ReceiptNumber == "" {
		t.Fatalf("unexpected transfer: %+v", first)
	}

	got := env.getItem(t, item.ID)
	if derefID(got.CurrentCustodianID) != custodian.ID || derefID(got.CurrentLocationID) != roomB {
		t.Fatalf("item not moved: custodian=%v location=%v", got.CurrentCustodianID, got.CurrentLocationID)
	}

	// A reason requiring approval leaves the item untouched.
	var second model.Transfer
	env.do(t, "POST", "/api/transfers", env.admin, map[string]any{
		"evidence_item_id": item.ID, "transfer_type": "internal", "transfer_reason_id": gated,
		"to_location_id": lab,
	}, &second)
	if second.Status != model.TransferStatusPending || !second.RequiresApproval {
		t.Fatalf("expected pending transfer, got %+v", second)
	}
	if derefID(second.FromLocationID) != roomB || derefID(second.FromCustodianID) != custodian.ID {
		t.Errorf("from snapshot wrong: %+v", second)
	}

	got = env.getItem(t, item.ID)
	if derefID(got.CurrentLocationID) != roomB {
		t.Fatalf("pending transfer moved item to %v", got.CurrentLocationID)
	}

	// Analysts cannot approve.
	env.createUser(t, "analyst", model.RoleAnalyst)
	analystToken := env.login(t, "analyst")
	if code := env.do(t, "PUT", "/api/transfers/"+itoa(second.ID), analystToken, map[string]string{"action": "approve"}, nil); code != http.StatusForbidden {
		t.Errorf("analyst approve: expected 403, got %d", code)
	}

	var approved model.Transfer
	if code := env.do(t, "PUT", "/api/transfers/"+itoa(second.ID), supToken, map[string]string{"action": "approve"}, &approved); code != http.StatusOK {
		t.Fatalf("approve: %d", code)
	}
	if approved.Status != model.TransferStatusCompleted || approved.ApprovedBy == nil || approved.ApprovedAt == nil {
		t.Errorf("unexpected approved transfer: %+v", approved)
	}

	got = env.getItem(t, item.ID)
	if derefID(got.CurrentLocationID) != lab || derefID(got.CurrentCustodianID) != custodian.ID {
		t.Errorf("approval did not apply target: location=%v custodian=%v", got.CurrentLocationID, got.CurrentCustodianID)
	}
	if len(got.Transfers) != 2 {
		t.Errorf("expected 2 transfers in detail, got %d", len(got.Transfers))
	}

	// Second resolution is a conflict, not a silent success.
	for _, action := range []string{"approve", "reject"} {
		if code := env.do(t, "PUT", "/api/transfers/"+itoa(second.ID), supToken, map[string]string{"action": action}, nil); code != http.StatusConflict {
			t.Errorf("second %s: expected 409, got %d", action, code)
		}
	}

	// Completed transfers cannot be deleted.
	if code := env.do(t, "DELETE", "/api/transfers/"+itoa(first.ID), env.admin, nil, nil); code != http.StatusConflict {
		t.Errorf("delete completed: expected 409, got %d", code)
	}
}

func TestRejectAndDeleteTransfers(t *testing.T) {
	env := setupTestServer(t)
	env.createUser(t, "sup", model.RoleSupervisor)
	supToken := env.login(t, "sup")
	env.createUser(t, "analyst", model.RoleAnalyst)
	analystToken := env.login(t, "analyst")
	env.createUser(t, "other", model.RoleAnalyst)
	otherToken := env.login(t, "other")

	gated := reasonByText(t, env, "Return to Owner")
	item := env.createItem(t, "2024-2", "B-1")

	create := func(token string) model.Transfer {
		var tr model.Transfer
		code := env.do(t, "POST", "/api/transfers", token, map[string]any{
			"evidence_item_id": item.ID, "transfer_type": "release", "transfer_reason_id": gated,
		}, &tr)
		if code != http.StatusCreated {
			t.Fatalf("create transfer: %d", code)
		}
		return tr
	}

	rejected := create(analystToken)
	var res model.Transfer
	code := env.do(t, "PUT", "/api/transfers/"+itoa(rejected.ID), supToken, map[string]string{
		"action": "reject", "rejection_reason": "paperwork missing",
	}, &res)
	if code != http.StatusOK || res.Status != model.TransferStatusRejected {
		t.Fatalf("reject: %d %+v", code, res)
	}
	if res.Notes != "REJECTED: paperwork missing" {
		t.Errorf("rejection not appended to notes: %q", res.Notes)
	}
	if got := env.getItem(t, item.ID); got.CurrentStatus != model.ItemStatusStored {
		t.Errorf("rejected release changed status to %s", got.CurrentStatus)
	}

	// Rejected transfers can no longer be edited.
	if code := env.do(t, "PUT", "/api/transfers/"+itoa(rejected.ID), analystToken, map[string]string{"notes": "again"}, nil); code != http.StatusConflict {
		t.Errorf("edit rejected: expected 409, got %d", code)
	}

	// Only the initiator or a supervisor may delete.
	if code := env.do(t, "DELETE", "/api/transfers/"+itoa(rejected.ID), otherToken, nil, nil); code != http.StatusForbidden {
		t.Errorf("delete by stranger: expected 403, got %d", code)
	}
	if code := env.do(t, "DELETE", "/api/transfers/"+itoa(rejected.ID), analystToken, nil, nil); code != http.StatusOK {
		t.Errorf("delete rejected by initiator: %d", code)
	}

	pending := create(analystToken)
	var edited model.Transfer
	if code := env.do(t, "PUT", "/api/transfers/"+itoa(pending.ID), analystToken, map[string]string{"notes": "owner on site"}, &edited); code != http.StatusOK || edited.Notes != "owner on site" {
		t.Errorf("edit pending: %d %+v", code, edited)
	}
	if code := env.do(t, "DELETE", "/api/transfers/"+itoa(pending.ID), supToken, nil, nil); code != http.StatusOK {
		t.Errorf("delete pending by supervisor: %d", code)
	}
	if code := env.do(t, "GET", "/api/transfers/"+itoa(pending.ID), env.admin, nil, nil); code != http.StatusNotFound {
		t.Errorf("deleted transfer still readable: %d", code)
	}
}

func TestTransferAgainstDisposedItem(t *testing.T) {
	env := setupTestServer(t)
	item := env.createItem(t, "2024-3", "C-1")

	var disposal model.Transfer
	env.do(t, "POST", "/api/transfers", env.admin, map[string]any{
		"evidence_item_id": item.ID, "transfer_type": "disposal",
	}, &disposal)
	if disposal.Status != model.TransferStatusCompleted {
		t.Fatalf("disposal without reason should complete, got %s", disposal.Status)
	}
	if got := env.getItem(t, item.ID); got.CurrentStatus != model.ItemStatusDisposed {
		t.Fatalf("expected disposed, got %s", got.CurrentStatus)
	}

	for _, typ := range []string{"receipt", "internal", "release", "disposal"} {
		code := env.do(t, "POST", "/api/transfers", env.admin, map[string]any{
			"evidence_item_id": item.ID, "transfer_type": typ,
		}, nil)
		if code != http.StatusConflict {
			t.Errorf("%s on disposed item: expected 409, got %d", typ, code)
		}
	}

	var list []model.Transfer
	env.do(t, "GET", "/api/transfers?evidence_item_id="+itoa(item.ID), env.admin, nil, &list)
	if len(list) != 1 {
		t.Errorf("expected only the disposal record, got %d", len(list))
	}

	// Status cannot leave a terminal state through the registry either.
	if code := env.do(t, "PATCH", "/api/evidence/"+itoa(item.ID), env.admin, map[string]string{"current_status": "stored"}, nil); code != http.StatusConflict {
		t.Errorf("revive disposed item: expected 409, got %d", code)
	}
}

func TestTransferValidation(t *testing.T) {
	env := setupTestServer(t)
	item := env.createItem(t, "2024-4", "D-1")

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing item", map[string]any{"transfer_type": "internal"}, http.StatusBadRequest},
		{"unknown item", map[string]any{"evidence_item_id": 9999, "transfer_type": "internal"}, http.StatusNotFound},
		{"bad type", map[string]any{"evidence_item_id": item.ID, "transfer_type": "teleport"}, http.StatusBadRequest},
		{"unknown location", map[string]any{"evidence_item_id": item.ID, "transfer_type": "internal", "to_location_id": 9999}, http.StatusBadRequest},
		{"unknown custodian", map[string]any{"evidence_item_id": item.ID, "transfer_type": "internal", "to_custodian_id": 9999}, http.StatusBadRequest},
		{"unknown reason", map[string]any{"evidence_item_id": item.ID, "transfer_type": "internal", "transfer_reason_id": 9999}, http.StatusBadRequest},
		{"unknown signature", map[string]any{"evidence_item_id": item.ID, "transfer_type": "internal", "from_signature_id": 9999}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := env.do(t, "POST", "/api/transfers", env.admin, tt.body, nil); code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, code)
			}
		})
	}

	// Inactive location is not selectable for new transfers.
	lab := locationByName(t, env, "Forensic Lab")
	env.do(t, "PATCH", "/api/lookups/locations/"+itoa(lab), env.admin, map[string]any{"active": false}, nil)
	if code := env.do(t, "POST", "/api/transfers", env.admin, map[string]any{
		"evidence_item_id": item.ID, "transfer_type": "internal", "to_location_id": lab,
	}, nil); code != http.StatusBadRequest {
		t.Errorf("inactive location: expected 400, got %d", code)
	}
}

func TestTransferListFilters(t *testing.T) {
	env := setupTestServer(t)
	a := env.createItem(t, "2024-5", "E-1")
	b := env.createItem(t, "2024-5", "E-2")
	gated := reasonByText(t, env, "Court Presentation")

	env.do(t, "POST", "/api/transfers", env.admin, map[string]any{"evidence_item_id": a.ID, "transfer_type": "internal"}, nil)
	env.do(t, "POST", "/api/transfers", env.admin, map[string]any{"evidence_item_id": b.ID, "transfer_type": "internal", "transfer_reason_id": gated}, nil)
	env.do(t, "POST", "/api/transfers", env.admin, map[string]any{"evidence_item_id": b.ID, "transfer_type": "internal"}, nil)

	var pending []model.Transfer
	env.do(t, "GET", "/api/transfers?status=pending", env.admin, nil, &pending)
	if len(pending) != 1 || pending[0].EvidenceItemID != b.ID {
		t.Errorf("pending filter: %+v", pending)
	}

	req, _ := http.NewRequest("GET", env.server.URL+"/api/transfers?limit=1", nil)
	req.Header.Set("Authorization", "Bearer "+env.admin)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Total-Count") != "3" {
		t.Errorf("X-Total-Count = %q", resp.Header.Get("X-Total-Count"))
	}

	if code := env.do(t, "GET", "/api/transfers?status=lost", env.admin, nil, nil); code != http.StatusBadRequest {
		t.Errorf("invalid status filter: expected 400, got %d", code)
	}
}

func TestEvidenceCRUD(t *testing.T) {
	env := setupTestServer(t)
	keeper := env.createUser(t, "keeper", model.RoleAnalyst)
	roomA := locationByName(t, env, "Evidence Room A")

	if code := env.do(t, "POST", "/api/evidence", env.admin, map[string]any{"case_number": "X"}, nil); code != http.StatusBadRequest {
		t.Errorf("missing fields: expected 400, got %d", code)
	}

	// An initial custodian records an implicit receipt.
	var item model.EvidenceItem
	code := env.do(t, "POST", "/api/evidence", env.admin, map[string]any{
		"case_number": "2024-6", "item_number": "F-1", "description": "phone",
		"collected_date": "2024-05-01", "current_custodian_id": keeper.ID, "current_location_id": roomA,
	}, &item)
	if code != http.StatusCreated {
		t.Fatalf("create: %d", code)
	}
	detail := env.getItem(t, item.ID)
	if len(detail.Transfers) != 1 || detail.Transfers[0].TransferType != model.TransferTypeReceipt ||
		detail.Transfers[0].Status != model.TransferStatusCompleted {
		t.Fatalf("expected completed initial receipt, got %+v", detail.Transfers)
	}
	if derefID(detail.CurrentCustodianID) != keeper.ID || derefID(detail.CurrentLocationID) != roomA {
		t.Errorf("item does not match receipt: %+v", detail.EvidenceItem)
	}

	if code := env.do(t, "POST", "/api/evidence", env.admin, map[string]any{
		"case_number": "2024-6", "item_number": "F-1", "description": "dup",
	}, nil); code != http.StatusConflict {
		t.Errorf("duplicate case+item: expected 409, got %d", code)
	}
	if code := env.do(t, "POST", "/api/evidence", env.admin, map[string]any{
		"case_number": "2024-6", "item_number": "F-9", "description": "bad date", "collected_date": "05/01/2024",
	}, nil); code != http.StatusBadRequest {
		t.Errorf("bad date: expected 400, got %d", code)
	}

	var updated model.EvidenceItem
	code = env.do(t, "PUT", "/api/evidence/"+itoa(item.ID), env.admin, map[string]any{
		"description": "phone, cracked screen", "current_status": "in_analysis",
	}, &updated)
	if code != http.StatusOK || updated.Description != "phone, cracked screen" || updated.CurrentStatus != model.ItemStatusInAnalysis {
		t.Errorf("update: %d %+v", code, updated)
	}
	if updated.CaseNumber != "2024-6" {
		t.Errorf("partial update cleared case number: %q", updated.CaseNumber)
	}

	if code := env.do(t, "PATCH", "/api/evidence/"+itoa(item.ID), env.admin, map[string]any{"item_type_id": 9999}, nil); code != http.StatusBadRequest {
		t.Errorf("unknown item type: expected 400, got %d", code)
	}

	// Items with transfer history cannot be deleted.
	if code := env.do(t, "DELETE", "/api/evidence/"+itoa(item.ID), env.admin, nil, nil); code != http.StatusConflict {
		t.Errorf("delete with history: expected 409, got %d", code)
	}

	plain := env.createItem(t, "2024-6", "F-2")
	env.do(t, "POST", "/api/evidence/"+itoa(plain.ID)+"/notes", env.admin, map[string]string{"note": "bagged"}, nil)
	if code := env.do(t, "DELETE", "/api/evidence/"+itoa(plain.ID), env.admin, nil, nil); code != http.StatusOK {
		t.Errorf("delete without history: %d", code)
	}
	if code := env.do(t, "GET", "/api/evidence/"+itoa(plain.ID), env.admin, nil, nil); code != http.StatusNotFound {
		t.Errorf("deleted item readable: %d", code)
	}

	var list []model.EvidenceItem
	env.do(t, "GET", "/api/evidence?search=cracked", env.admin, nil, &list)
	if len(list) != 1 || list[0].ID != item.ID {
		t.Errorf("search: %+v", list)
	}
	env.do(t, "GET", "/api/evidence?custodian="+itoa(keeper.ID)+"&location="+itoa(roomA), env.admin, nil, &list)
	if len(list) != 1 {
		t.Errorf("custodian+location filter: %d items", len(list))
	}
	env.createItem(t, "2024-7", "G-1")
	for _, param := range []string{"case_number", "case"} {
		env.do(t, "GET", "/api/evidence?"+param+"=2024-6", env.admin, nil, &list)
		if len(list) != 1 || list[0].CaseNumber != "2024-6" {
			t.Errorf("%s filter: %+v", param, list)
		}
	}
}

func TestEvidenceAutoNumber(t *testing.T) {
	env := setupTestServer(t)

	var types []model.ItemType
	env.do(t, "GET", "/api/lookups/item-types", env.admin, nil, &types)
	var laptop int64
	for _, it := range types {
		if it.Name == "Laptop" {
			laptop = it.ID
		}
	}

	var first, second model.EvidenceItem
	env.do(t, "POST", "/api/evidence", env.admin, map[string]any{
		"case_number": "2024-7", "auto_number": true, "item_type_id": laptop, "description": "one",
	}, &first)
	env.do(t, "POST", "/api/evidence", env.admin, map[string]any{
		"case_number": "2024-7", "auto_number": true, "item_type_id": laptop, "description": "two",
	}, &second)

	if first.ItemNumber == "" || first.ItemNumber == second.ItemNumber {
		t.Errorf("auto numbers not unique: %q, %q", first.ItemNumber, second.ItemNumber)
	}
	if want := model.NextItemNumber("2024-7", "Laptop", []string{first.ItemNumber}); second.ItemNumber != want {
		t.Errorf("second number = %q, want %q", second.ItemNumber, want)
	}
}

func TestNotesAndPhotos(t *testing.T) {
	env := setupTestServer(t)
	item := env.createItem(t, "2024-8", "G-1")
	base := "/api/evidence/" + itoa(item.ID)

	if code := env.do(t, "POST", base+"/notes", env.admin, map[string]string{"note": "  "}, nil); code != http.StatusBadRequest {
		t.Errorf("blank note: expected 400, got %d", code)
	}
	if code := env.do(t, "POST", "/api/evidence/9999/notes", env.admin, map[string]string{"note": "x"}, nil); code != http.StatusNotFound {
		t.Errorf("note on missing item: expected 404, got %d", code)
	}
	var note model.Note
	if code := env.do(t, "POST", base+"/notes", env.admin, map[string]string{"note": "sealed in bag 7"}, &note); code != http.StatusCreated {
		t.Fatalf("add note: %d", code)
	}

	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	img.Set(1, 1, color.RGBA{255, 0, 0, 255})
	var pngBuf bytes.Buffer
	png.Encode(&pngBuf, img)

	upload := func(data []byte) (int, model.Photo) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, _ := mw.CreateFormFile("photo", "scene.png")
		fw.Write(data)
		mw.WriteField("caption", "front")
		mw.Close()

		req, _ := http.NewRequest("POST", env.server.URL+base+"/photos", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+env.admin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var p model.Photo
		if resp.StatusCode == http.StatusCreated {
			decodeBody(t, resp.Body, &p)
		}
		return resp.StatusCode, p
	}

	if code, _ := upload([]byte("not an image")); code != http.StatusBadRequest {
		t.Errorf("text upload: expected 400, got %d", code)
	}
	code, photo := upload(pngBuf.Bytes())
	if code != http.StatusCreated || photo.ImageMime != "image/jpeg" || photo.Caption != "front" {
		t.Fatalf("upload: %d %+v", code, photo)
	}

	req, _ := http.NewRequest("GET", env.server.URL+base+"/photos/"+itoa(photo.ID), nil)
	req.Header.Set("Authorization", "Bearer "+env.admin)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" || len(data) == 0 {
		t.Errorf("fetch photo: %d %s %d bytes", resp.StatusCode, resp.Header.Get("Content-Type"), len(data))
	}

	detail := env.getItem(t, item.ID)
	if len(detail.Notes) != 1 || len(detail.Photos) != 1 {
		t.Errorf("detail: %d notes, %d photos", len(detail.Notes), len(detail.Photos))
	}
}

func TestWorkbookExports(t *testing.T) {
	env := setupTestServer(t)
	item := env.createItem(t, "2024-9", "H-1")
	env.do(t, "POST", "/api/transfers", env.admin, map[string]any{"evidence_item_id": item.ID, "transfer_type": "internal"}, nil)

	for _, path := range []string{"/api/evidence/export.xlsx", "/api/evidence/" + itoa(item.ID) + "/custody.xlsx"} {
		req, _ := http.NewRequest("GET", env.server.URL+path, nil)
		req.Header.Set("Authorization", "Bearer "+env.admin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != report.ContentType {
			t.Fatalf("%s: %d %s", path, resp.StatusCode, resp.Header.Get("Content-Type"))
		}
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("%s: not a workbook: %v", path, err)
		}
		if len(f.GetSheetList()) != 1 {
			t.Errorf("%s: sheets %v", path, f.GetSheetList())
		}
		f.Close()
	}
}

func TestTransferReceiptWorkbook(t *testing.T) {
	env := setupTestServer(t)
	keeper := env.createUser(t, "keeper", model.RoleAnalyst)
	item := env.createItem(t, "2024-10", "R-1")

	var sig model.Signature
	if code := env.do(t, "POST", "/api/signatures", env.admin, map[string]string{
		"signature_type": model.SignatureTyped, "signature_data": "A. Admin",
	}, &sig); code != http.StatusCreated {
		t.Fatalf("create signature: %d", code)
	}

	var tr model.Transfer
	code := env.do(t, "POST", "/api/transfers", env.admin, map[string]any{
		"evidence_item_id":     item.ID,
		"transfer_type":        "internal",
		"transfer_reason_id":   reasonByText(t, env, "Forensic Analysis Required"),
		"transfer_reason_text": "image the disk",
		"to_custodian_id":      keeper.ID,
		"from_signature_id":    sig.ID,
	}, &tr)
	if code != http.StatusCreated {
		t.Fatalf("create transfer: %d", code)
	}
	if tr.ReasonText != "image the disk" {
		t.Errorf("reason text not stored: %q", tr.ReasonText)
	}

	req, _ := http.NewRequest("GET", env.server.URL+"/api/transfers/"+itoa(tr.ID)+"/receipt.xlsx", nil)
	req.Header.Set("Authorization", "Bearer "+env.admin)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != report.ContentType {
		t.Fatalf("receipt: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("not a workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Receipt")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	values := map[string]string{}
	for _, r := range rows {
		if len(r) > 1 && r[0] != "" {
			values[r[0]] = r[1]
		}
	}
	if values["Receipt Number"] != tr.ReceiptNumber {
		t.Errorf("receipt number = %q, want %q", values["Receipt Number"], tr.ReceiptNumber)
	}
	if values["Reason"] != "Forensic Analysis Required: image the disk" {
		t.Errorf("reason = %q", values["Reason"])
	}
	if values["To Custodian"] != "Keeper" || values["Case Number"] != "2024-10" {
		t.Errorf("parties/item: %v", values)
	}
	if values["Received By"] != "Not signed" {
		t.Errorf("received by = %q", values["Received By"])
	}

	if code := env.do(t, "GET", "/api/transfers/"+itoa(tr.ID+100)+"/receipt.xlsx", env.admin, nil, nil); code != http.StatusNotFound {
		t.Errorf("missing transfer receipt: expected 404, got %d", code)
	}
}

func decodeBody(t *testing.T, r io.Reader, v any) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func derefID(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
