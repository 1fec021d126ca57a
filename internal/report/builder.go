// Package report renders row validation errors into an XLSX error report
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cuongbtq/reservation-import/internal/domain"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// SheetName is the name of the single sheet in every report
const SheetName = "Error Report"

var headers = []string{"Row", "Issues", "Suggestions"}

// Line is one rendered report row
type Line struct {
	Row         int
	Issues      string
	Suggestions string
}

// Builder writes error reports into a directory
type Builder struct {
	dir string
}

// NewBuilder creates a builder that writes into dir
func NewBuilder(dir string) *Builder {
	return &Builder{dir: dir}
}

// Build writes a report for errs and returns the path of the new file
func (b *Builder) Build(errs []domain.RowError) (string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return "", fmt.Errorf("failed to rename sheet: %w", err)
	}

	if err := f.SetSheetRow(SheetName, "A1", &headers); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = f.SetCellStyle(SheetName, "A1", "C1", style)
	}

	for i, line := range Lines(errs) {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []any{line.Row, line.Issues, line.Suggestions}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return "", fmt.Errorf("failed to write report row: %w", err)
		}
	}

	_ = f.SetColWidth(SheetName, "A", "A", 8)
	_ = f.SetColWidth(SheetName, "B", "C", 60)

	path := filepath.Join(b.dir, uuid.NewString()+".xlsx")
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}

	return path, nil
}

// Remove deletes a report that no task refers to
func (b *Builder) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove report: %w", err)
	}
	return nil
}

// Lines groups errors by row, in ascending row order. Row numbers are
// one-based.
func Lines(errs []domain.RowError) []Line {
	grouped := make(map[int][]domain.RowError)
	for _, e := range errs {
		grouped[e.Row] = append(grouped[e.Row], e)
	}

	rows := make([]int, 0, len(grouped))
	for row := range grouped {
		rows = append(rows, row)
	}
	sort.Ints(rows)

	lines := make([]Line, 0, len(rows))
	for _, row := range rows {
		issues := make([]string, 0, len(grouped[row]))
		suggestions := make([]string, 0, len(grouped[row]))
		for _, e := range grouped[row] {
			issues = append(issues, e.Message)
			suggestions = append(suggestions, Suggestion(e))
		}
		lines = append(lines, Line{
			Row:         row + 1,
			Issues:      strings.Join(issues, "; "),
			Suggestions: strings.Join(suggestions, "; "),
		})
	}

	return lines
}

// Suggestion derives a remediation hint from an error message
func Suggestion(e domain.RowError) string {
	switch {
	case strings.Contains(e.Message, "format"):
		return e.Field + ": Check the format of the field"
	case strings.Contains(e.Message, "missing"):
		return e.Field + ": Ensure the field is provided"
	default:
		return e.Field + ": Make sure the field is correct"
	}
}
