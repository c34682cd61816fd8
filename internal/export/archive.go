// Package export writes claim lists to spreadsheets.
package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/moumen26/insurance-client-side/internal/domain"
)

// SheetArchived name of the archived claims sheet.
const SheetArchived = "Archived Claims"

// ArchivedHeader column order of the archived claims sheet.
var ArchivedHeader = []string{
	"Claim ID",
	"Date",
	"Medical Service",
	"Status",
	"Claim Amount",
	"Reimbursement",
	"Total Paid",
	"Rejection Reason",
	"Dispute",
}

var archivedColumnWidths = []float64{10, 20, 40, 12, 15, 15, 15, 40, 40}

// ArchivedClaimsWorkbook renders claims as an xlsx workbook. An empty list
// yields the header row only.
func ArchivedClaimsWorkbook(claims []domain.Claim) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(SheetArchived)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	// two decimals, matching how amounts are entered
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create amount style: %w", err)
	}

	for col, header := range ArchivedHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(SheetArchived, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(SheetArchived, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(SheetArchived, name, name, archivedColumnWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, c := range claims {
		row := i + 2
		if err := f.SetSheetRow(SheetArchived, fmt.Sprintf("A%d", row), &[]any{
			c.ID.String(),
			formatDate(c.Date),
			c.ServiceLabel(),
			c.Status.String(),
			c.ClaimAmount.InexactFloat64(),
			c.ReimbursementDisplay().InexactFloat64(),
			totalPaid(c),
			justification(c),
			accusation(c),
		}); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", row, err)
		}
		if err := f.SetCellStyle(SheetArchived, fmt.Sprintf("E%d", row), fmt.Sprintf("G%d", row), amountStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set amount style: %w", err)
		}
	}

	if err := f.SetPanes(SheetArchived, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func formatDate(t domain.Timestamp) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

// totalPaid is blank for claims that were never paid.
func totalPaid(c domain.Claim) any {
	if c.Status != domain.StatusPaid {
		return ""
	}
	return c.TotalPaid().InexactFloat64()
}

func justification(c domain.Claim) string {
	if c.Justification == nil {
		return ""
	}
	return c.Justification.Description
}

func accusation(c domain.Claim) string {
	if c.Accusation == nil {
		return ""
	}
	return c.Accusation.Description
}
