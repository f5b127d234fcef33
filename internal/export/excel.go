// Package export writes submission listings as spreadsheets.
package export

import (
	"fmt"
	"io"

	"github.com/radiusdt/leadgen-analytics/internal/models"
	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet holding the rows.
const SheetName = "Submissions"

// ContentType is the MIME type of the workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Columns is the header row.
var Columns = []string{
	"ID", "Created", "Name", "Company", "Email", "Phone", "Address",
	"Type", "Language", "Quality", "Sales status", "Sales rep",
	"UTM source", "UTM medium", "UTM campaign", "UTM content", "UTM term",
	"Consent", "Marketing consent", "Country", "Landing page",
}

func row(s *models.Submission) []any {
	return []any{
		s.ID, s.CreatedAt.UTC().Format("2006-01-02 15:04:05"), s.Name, s.Company, s.Email, s.Phone, s.Address,
		string(s.Type), s.Language, s.Quality.Label(), string(s.SalesStatus), s.SalesRep,
		s.UTM.Source, s.UTM.Medium, s.UTM.Campaign, s.UTM.Content, s.UTM.Term,
		yesNo(s.Consent), yesNo(s.MarketingConsent), s.Country, s.LandingPage,
	}
}

// WriteSubmissions writes subs as an .xlsx workbook to w.
func WriteSubmissions(w io.Writer, subs []*models.Submission) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("failed to open stream writer: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = excelize.Cell{StyleID: bold, Value: c}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, s := range subs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row(s)); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
