package report

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/erazemk/custody/internal/model"
)

// labelled returns column B of the first row whose column A equals label.
func labelled(t *testing.T, f *excelize.File, label string) (string, int) {
	t.Helper()
	rows, err := f.GetRows("Receipt")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	for i, r := range rows {
		if len(r) > 0 && r[0] == label {
			if len(r) > 1 {
				return r[1], i + 1
			}
			return "", i + 1
		}
	}
	t.Fatalf("label %q not found", label)
	return "", 0
}

func signaturePNG(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 480, 160))
	for x := 0; x < 480; x++ {
		img.Set(x, 80, color.Black)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestTransferReceipt(t *testing.T) {
	at := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	tr := &model.Transfer{
		ReceiptNumber:     "RELEASE-000042-20261016-000017",
		TransferType:      model.TransferTypeRelease,
		TransferReason:    "Return to Owner",
		ReasonText:        "court order 12/3",
		RequiresApproval:  true,
		Status:            model.TransferStatusCompleted,
		FromCustodianName: "Keeper",
		FromLocationName:  "Evidence Room A",
		ToCustodianName:   "Owner",
		InitiatedAt:       at,
		ApprovedAt:        &at,
		ApprovedByName:    "sup",
		Notes:             "handed over in person",
	}
	item := &model.EvidenceItem{CaseNumber: "2026-4", ItemNumber: "A-1", ItemTypeName: "Laptop", Description: "ThinkPad"}
	from := &model.Signature{SignatureType: model.SignatureHandDrawn, SignatureData: signaturePNG(t), Username: "keeper", CreatedAt: at}
	to := &model.Signature{SignatureType: model.SignatureTyped, SignatureData: "J. Owner", Username: "owner", CreatedAt: at}

	var buf bytes.Buffer
	if err := TransferReceipt(&buf, tr, item, from, to); err != nil {
		t.Fatalf("TransferReceipt: %v", err)
	}
	f := open(t, &buf)

	title, _ := f.GetCellValue("Receipt", "A1")
	if title != "EVIDENCE TRANSFER RECEIPT" {
		t.Errorf("title = %q", title)
	}

	tests := []struct {
		label string
		want  string
	}{
		{"Receipt Number", tr.ReceiptNumber},
		{"Date/Time", "2026-10-16 09:30:00"},
		{"Reason", "Return to Owner: court order 12/3"},
		{"Requires Approval", "Yes"},
		{"Item Type", "Laptop"},
		{"From Location", "Evidence Room A"},
		{"To Custodian", "Owner"},
		{"Notes", "handed over in person"},
	}
	for _, tt := range tests {
		if got, _ := labelled(t, f, tt.label); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.label, got, tt.want)
		}
	}

	// The hand-drawn signature is embedded below its label.
	_, row := labelled(t, f, "Released By")
	cell, _ := excelize.CoordinatesToCellName(2, row+1)
	pics, err := f.GetPictures("Receipt", cell)
	if err != nil {
		t.Fatalf("GetPictures: %v", err)
	}
	if len(pics) != 1 || pics[0].Extension != ".png" {
		t.Errorf("expected one embedded png at %s, got %d", cell, len(pics))
	}

	// The typed signature is written as text.
	_, row = labelled(t, f, "Received By")
	typed, _ := f.GetCellValue("Receipt", "B"+itoa(row+1))
	if typed != "J. Owner" {
		t.Errorf("typed signature = %q", typed)
	}
}

func TestTransferReceiptUnsigned(t *testing.T) {
	tr := &model.Transfer{ReceiptNumber: "INTERNAL-000001-20261016-000001", TransferType: model.TransferTypeInternal, Status: model.TransferStatusPending}
	item := &model.EvidenceItem{CaseNumber: "C", ItemNumber: "1"}
	broken := &model.Signature{SignatureType: model.SignatureUploaded, SignatureData: "data:image/png;base64,bm90IGEgcG5n"}

	var buf bytes.Buffer
	if err := TransferReceipt(&buf, tr, item, nil, broken); err != nil {
		t.Fatalf("TransferReceipt: %v", err)
	}
	f := open(t, &buf)

	if got, _ := labelled(t, f, "Released By"); got != "Not signed" {
		t.Errorf("Released By = %q", got)
	}
	if got, _ := labelled(t, f, "Requires Approval"); got != "No" {
		t.Errorf("Requires Approval = %q", got)
	}
	_, row := labelled(t, f, "Received By")
	msg, _ := f.GetCellValue("Receipt", "B"+itoa(row+1))
	if msg != "(unreadable signature image)" {
		t.Errorf("expected unreadable image note, got %q", msg)
	}
}

func TestDecodeDataURL(t *testing.T) {
	tests := []struct {
		in      string
		wantExt string
		ok      bool
	}{
		{"data:image/png;base64,AAAA", ".png", true},
		{"data:image/jpeg;base64,AAAA", ".jpg", true},
		{"data:image/gif;base64,AAAA", "", false},
		{"data:image/png,AAAA", "", false},
		{"J. Smith", "", false},
		{"data:image/png;base64,***", "", false},
	}
	for _, tt := range tests {
		_, ext, ok := decodeDataURL(tt.in)
		if ok != tt.ok || ext != tt.wantExt {
			t.Errorf("decodeDataURL(%q) = %q, %v", tt.in, ext, ok)
		}
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
