// Package report renders evidence data as Excel workbooks.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/erazemk/custody/internal/model"
)

// ContentType is the MIME type of the generated workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const timeLayout = "2006-01-02 15:04:05"

var registerHeader = []any{
	"ID", "Case Number", "Item Number", "Item Type", "Description", "Status",
	"Location", "Custodian", "Collected Date", "Collected By", "Serial Number",
	"Barcode", "Created At",
}

var historyHeader = []any{
	"Receipt Number", "Type", "Status", "Reason", "From Custodian", "From Location",
	"To Custodian", "To Location", "Initiated By", "Initiated At", "Approved By",
	"Approved At", "Notes",
}

// EvidenceRegister writes one row per evidence item.
func EvidenceRegister(w io.Writer, items []model.EvidenceItem) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet, err := renameActive(f, "Evidence")
	if err != nil {
		return err
	}
	if err := writeHeader(f, sheet, 1, registerHeader); err != nil {
		return err
	}

	for i, it := range items {
		row := []any{
			it.ID, it.CaseNumber, it.ItemNumber, it.ItemTypeName, it.Description,
			it.CurrentStatus, it.CurrentLocationName, it.CurrentCustodianName,
			it.CollectedDate, it.CollectedBy, it.SerialNumber, it.Barcode,
			it.CreatedAt.UTC().Format(timeLayout),
		}
		if err := setRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(sheet, "B", "H", 20); err != nil {
		return fmt.Errorf("sizing columns: %w", err)
	}
	return write(f, w)
}

// CustodyReport writes a chain-of-custody sheet for a single item: a summary
// block followed by its transfers in the order given.
func CustodyReport(w io.Writer, item *model.EvidenceItem, transfers []model.Transfer) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet, err := renameActive(f, "Chain of Custody")
	if err != nil {
		return err
	}

	summary := [][]any{
		{"Case Number", item.CaseNumber},
		{"Item Number", item.ItemNumber},
		{"Item Type", item.ItemTypeName},
		{"Description", item.Description},
		{"Status", item.CurrentStatus},
		{"Location", item.CurrentLocationName},
		{"Custodian", item.CurrentCustodianName},
		{"Generated At", time.Now().UTC().Format(timeLayout)},
	}
	for i, r := range summary {
		if err := setRow(f, sheet, i+1, r); err != nil {
			return err
		}
	}

	headerRow := len(summary) + 2
	if err := writeHeader(f, sheet, headerRow, historyHeader); err != nil {
		return err
	}

	for i, t := range transfers {
		row := []any{
			t.ReceiptNumber, t.TransferType, t.Status, t.TransferReason,
			t.FromCustodianName, t.FromLocationName, t.ToCustodianName, t.ToLocationName,
			t.InitiatedByName, t.InitiatedAt.UTC().Format(timeLayout),
			t.ApprovedByName, formatTime(t.ApprovedAt), t.Notes,
		}
		if err := setRow(f, sheet, headerRow+1+i, row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(sheet, "A", "A", 34); err != nil {
		return fmt.Errorf("sizing columns: %w", err)
	}
	return write(f, w)
}

func renameActive(f *excelize.File, name string) (string, error) {
	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), name); err != nil {
		return "", fmt.Errorf("naming sheet: %w", err)
	}
	return name, nil
}

func writeHeader(f *excelize.File, sheet string, row int, header []any) error {
	if err := setRow(f, sheet, row, header); err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	first, _ := excelize.CoordinatesToCellName(1, row)
	last, _ := excelize.CoordinatesToCellName(len(header), row)
	if err := f.SetCellStyle(sheet, first, last, style); err != nil {
		return fmt.Errorf("styling header: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("resolving cell: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing row %d: %w", row, err)
	}
	return nil
}

func write(f *excelize.File, w io.Writer) error {
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
