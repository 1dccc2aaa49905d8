package report

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/erazemk/custody/internal/model"
)

// Signature images are scaled to fit this box, in pixels.
const (
	signatureWidth  = 240
	signatureHeight = 80
)

// TransferReceipt writes the receipt of a single custody transfer: transfer
// details, the item moved, both parties and their signatures. Hand-drawn and
// uploaded signatures stored as data URLs are embedded as pictures; anything
// else is written as text. from and to may be nil when a side did not sign.
func TransferReceipt(w io.Writer, t *model.Transfer, item *model.EvidenceItem, from, to *model.Signature) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet, err := renameActive(f, "Receipt")
	if err != nil {
		return err
	}

	if err := writeHeader(f, sheet, 1, []any{"EVIDENCE TRANSFER RECEIPT"}); err != nil {
		return err
	}

	reason := t.TransferReason
	if t.ReasonText != "" {
		if reason != "" {
			reason += ": "
		}
		reason += t.ReasonText
	}
	approval := "No"
	if t.RequiresApproval {
		approval = "Yes"
	}

	rows := [][]any{
		{"Receipt Number", t.ReceiptNumber},
		{"Date/Time", t.InitiatedAt.UTC().Format(timeLayout)},
		{"Transfer Type", t.TransferType},
		{"Status", t.Status},
		{"Reason", reason},
		{"Requires Approval", approval},
		{"Approved By", t.ApprovedByName},
		{"Approved At", formatTime(t.ApprovedAt)},
		{"Completed At", formatTime(t.CompletedAt)},
		{"Initiated By", t.InitiatedByName},
		{},
		{"Case Number", item.CaseNumber},
		{"Item Number", item.ItemNumber},
		{"Item Type", item.ItemTypeName},
		{"Description", item.Description},
		{},
		{"From Custodian", t.FromCustodianName},
		{"From Location", t.FromLocationName},
		{"To Custodian", t.ToCustodianName},
		{"To Location", t.ToLocationName},
		{},
		{"Condition Notes", t.ConditionNotes},
		{"Notes", t.Notes},
		{},
	}
	row := 3
	for _, r := range rows {
		if len(r) > 0 {
			if err := setRow(f, sheet, row, r); err != nil {
				return err
			}
		}
		row++
	}

	for _, s := range []struct {
		label string
		sig   *model.Signature
	}{
		{"Released By", from},
		{"Received By", to},
	} {
		if row, err = writeSignature(f, sheet, row, s.label, s.sig); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(sheet, "A", "A", 22); err != nil {
		return fmt.Errorf("sizing columns: %w", err)
	}
	if err := f.SetColWidth(sheet, "B", "B", 48); err != nil {
		return fmt.Errorf("sizing columns: %w", err)
	}
	return write(f, w)
}

// writeSignature writes a labelled signature block starting at row and
// returns the next free row.
func writeSignature(f *excelize.File, sheet string, row int, label string, sig *model.Signature) (int, error) {
	if sig == nil {
		return row + 1, setRow(f, sheet, row, []any{label, "Not signed"})
	}

	signer := sig.Username
	if signer == "" {
		signer = "unknown"
	}
	desc := fmt.Sprintf("%s (%s, %s)", signer, sig.SignatureType, sig.CreatedAt.UTC().Format(timeLayout))
	if err := setRow(f, sheet, row, []any{label, desc}); err != nil {
		return 0, err
	}
	row++

	img, ext, ok := decodeDataURL(sig.SignatureData)
	if !ok {
		if sig.SignatureType == model.SignatureTyped && sig.SignatureData != "" {
			if err := setRow(f, sheet, row, []any{"", sig.SignatureData}); err != nil {
				return 0, err
			}
			row++
		}
		return row + 1, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil || cfg.Width == 0 || cfg.Height == 0 {
		if err := setRow(f, sheet, row, []any{"", "(unreadable signature image)"}); err != nil {
			return 0, err
		}
		return row + 2, nil
	}
	scale := min(1, float64(signatureWidth)/float64(cfg.Width), float64(signatureHeight)/float64(cfg.Height))

	cell, _ := excelize.CoordinatesToCellName(2, row)
	if err := f.AddPictureFromBytes(sheet, cell, &excelize.Picture{
		Extension: ext,
		File:      img,
		Format: &excelize.GraphicOptions{
			AltText: label + " signature",
			ScaleX:  scale,
			ScaleY:  scale,
		},
	}); err != nil {
		return 0, fmt.Errorf("embedding signature: %w", err)
	}
	if err := f.SetRowHeight(sheet, row, float64(cfg.Height)*scale*0.75+4); err != nil {
		return 0, fmt.Errorf("sizing signature row: %w", err)
	}
	return row + 2, nil
}

// decodeDataURL extracts a base64 PNG or JPEG from a data URL.
func decodeDataURL(s string) ([]byte, string, bool) {
	meta, data, found := strings.Cut(s, ",")
	if !found || !strings.HasPrefix(meta, "data:") || !strings.HasSuffix(meta, ";base64") {
		return nil, "", false
	}
	var ext string
	switch strings.TrimSuffix(strings.TrimPrefix(meta, "data:"), ";base64") {
	case "image/png":
		ext = ".png"
	case "image/jpeg", "image/jpg":
		ext = ".jpg"
	default:
		return nil, "", false
	}
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, "", false
	}
	return img, ext, true
}
