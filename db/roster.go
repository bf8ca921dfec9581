package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"sms-server-go/logger"
	"sms-server-go/models"
)

// ErrInvalidRoster marks a roster file that could not be read as a workbook.
var ErrInvalidRoster = errors.New("invalid roster file")

// ImportResult summarizes a roster import.
type ImportResult struct {
	Imported int   `json:"inserted"`
	Skipped  []int `json:"skipped_rows"`
}

// ReadRoster reads students from the first sheet of an Excel workbook.
// Row 1 is a header; column A is the first name, column B the last name.
// Rows missing either name are reported by their 1-based row number.
func ReadRoster(file io.Reader) ([]models.PersonInput, []int, error) {
	f, err := excelize.OpenReader(file)
	if err != nil {
		logger.LogError("Error opening Excel reader", err)
		return nil, nil, fmt.Errorf("%w: failed to open excel file: %w", ErrInvalidRoster, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.LogWarn("Error closing excel file", "error", err)
		}
	}()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, nil, fmt.Errorf("%w: excel file does not contain any sheets", ErrInvalidRoster)
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to get rows from sheet %s: %w", ErrInvalidRoster, sheetName, err)
	}

	people := []models.PersonInput{}
	skipped := []int{}
	for i, row := range rows {
		if i == 0 {
			continue
		}

		var first, last string
		if len(row) > 0 {
			first = strings.TrimSpace(row[0])
		}
		if len(row) > 1 {
			last = strings.TrimSpace(row[1])
		}
		if first == "" && last == "" {
			continue
		}
		if first == "" || last == "" || tooLong(first) || tooLong(last) {
			logger.LogWarn("Skipping roster row", "row", i+1, "first_name", first, "last_name", last)
			skipped = append(skipped, i+1)
			continue
		}
		people = append(people, models.PersonInput{FirstName: first, LastName: last})
	}
	return people, skipped, nil
}

// maxNameLen matches the max=100 binding on models.PersonInput, which
// counts characters.
const maxNameLen = 100

func tooLong(name string) bool {
	return utf8.RuneCountInString(name) > maxNameLen
}

// ImportStudents reads a roster workbook and creates every valid student in
// one transaction.
func (s *Session) ImportStudents(ctx context.Context, file io.Reader) (*ImportResult, error) {
	people, skipped, err := ReadRoster(file)
	if err != nil {
		return nil, err
	}

	students, err := s.CreateStudents(ctx, people)
	if err != nil {
		return nil, err
	}

	logger.LogInfo("Imported students from roster", "imported", len(students), "skipped", len(skipped))
	return &ImportResult{Imported: len(students), Skipped: skipped}, nil
}
