package stixifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
)

// WritePDF renders the converted markdown into an archival PDF so the
// ingested content survives independently of the original upload.
func WritePDF(path, title, markdown string, created time.Time) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.SetTextColor(15, 98, 254)
	pdf.MultiCell(0, 9, title, "0", "L", false)
	pdf.Ln(2)

	pdf.SetFont("Courier", "", 9)
	pdf.SetTextColor(100, 100, 100)
	pdf.Cell(0, 6, fmt.Sprintf("Archived: %s", created.UTC().Format("2006-01-02 15:04")))
	pdf.Ln(10)

	pdf.SetTextColor(0, 0, 0)
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "# "):
			pdf.SetFont("Arial", "B", 14)
			pdf.MultiCell(0, 8, strings.TrimPrefix(trimmed, "# "), "0", "L", false)
		case strings.HasPrefix(trimmed, "## "):
			pdf.SetFont("Arial", "B", 12)
			pdf.MultiCell(0, 7, strings.TrimPrefix(trimmed, "## "), "0", "L", false)
		case strings.HasPrefix(trimmed, "### "):
			pdf.SetFont("Arial", "B", 11)
			pdf.MultiCell(0, 6, strings.TrimPrefix(trimmed, "### "), "0", "L", false)
		default:
			pdf.SetFont("Arial", "", 10)
			pdf.MultiCell(0, 5, line, "0", "L", false)
		}
	}

	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
