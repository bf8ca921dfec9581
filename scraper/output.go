package scraper

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"sms-server-go/logger"
	"sms-server-go/models"
)

const xlsxSheet = "Listings"

var xlsxHeader = []interface{}{"source", "title", "url", "category_or_author", "price"}

func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// SaveJSON writes the records as an indented UTF-8 JSON array, creating
// parent directories as needed. Non-ASCII text is written as is.
func SaveJSON(path string, records []models.ListingInput) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if records == nil {
		records = []models.ListingInput{}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	logger.LogInfo("Saved scraped records", "path", path, "records", len(records))
	return nil
}

// SaveXLSX writes the records to a workbook with a header row.
func SaveXLSX(path string, records []models.ListingInput) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logger.LogWarn("Error closing excel file", "error", err)
		}
	}()

	if err := f.SetSheetName(f.GetSheetName(0), xlsxSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &xlsxHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, r := range records {
		price := ""
		if r.Price != nil {
			price = *r.Price
		}
		row := []interface{}{r.Source, r.Title, r.URL, r.CategoryOrAuthor, price}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(xlsxSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	logger.LogInfo("Saved scraped records", "path", path, "records", len(records))
	return nil
}
