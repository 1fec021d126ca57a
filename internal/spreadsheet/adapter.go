// Package spreadsheet reads reservation rows out of XLSX workbooks
package spreadsheet

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/reservation-import/internal/domain"
	"github.com/xuri/excelize/v2"
)

// StatusTranslations maps localized status labels to reservation statuses.
// Labels not listed here are passed through unchanged.
var StatusTranslations = map[string]domain.ReservationStatus{
	"oczekująca":   domain.ReservationStatusPending,
	"zrealizowana": domain.ReservationStatusCompleted,
	"anulowana":    domain.ReservationStatusCancelled,
}

var dateColumns = map[string]bool{
	domain.FieldCheckInDate:  true,
	domain.FieldCheckOutDate: true,
}

// Load opens the workbook at path and returns the data rows of its first
// sheet. The first non-empty row is the header.
func Load(path string) ([]domain.ReservationRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", domain.ErrUnreadableWorkbook, path, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", domain.ErrUnreadableWorkbook)
	}

	records, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read rows: %v", domain.ErrUnreadableWorkbook, err)
	}

	date1904 := false
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		date1904 = *props.Date1904
	}

	return toRows(records, date1904), nil
}

func toRows(records [][]string, date1904 bool) []domain.ReservationRow {
	var columns map[int]string
	rows := make([]domain.ReservationRow, 0, len(records))

	for _, record := range records {
		if isEmpty(record) {
			continue
		}
		if columns == nil {
			columns = headerColumns(record)
			continue
		}

		var row domain.ReservationRow
		for idx, name := range columns {
			if idx >= len(record) {
				continue
			}
			value := strings.TrimSpace(record[idx])
			if dateColumns[name] {
				value = serialToDate(value, date1904)
			}
			setField(&row, name, value)
		}
		row.Status = TranslateStatus(row.Status)
		rows = append(rows, row)
	}

	return rows
}

func headerColumns(header []string) map[int]string {
	columns := make(map[int]string, len(header))
	for idx, cell := range header {
		name := strings.ToLower(strings.TrimSpace(cell))
		switch name {
		case domain.FieldReservationID, domain.FieldGuestName, domain.FieldStatus,
			domain.FieldCheckInDate, domain.FieldCheckOutDate:
			columns[idx] = name
		}
	}
	return columns
}

func setField(row *domain.ReservationRow, name, value string) {
	switch name {
	case domain.FieldReservationID:
		row.ReservationID = value
	case domain.FieldGuestName:
		row.GuestName = value
	case domain.FieldStatus:
		row.Status = value
	case domain.FieldCheckInDate:
		row.CheckInDate = value
	case domain.FieldCheckOutDate:
		row.CheckOutDate = value
	}
}

// TranslateStatus maps a localized status label to its canonical value
func TranslateStatus(label string) string {
	if status, ok := StatusTranslations[strings.ToLower(label)]; ok {
		return string(status)
	}
	return label
}

// serialToDate turns an Excel date serial into ISO date text. Other values
// are returned as is and left for the validator to judge.
func serialToDate(value string, date1904 bool) string {
	serial, err := strconv.ParseFloat(value, 64)
	if err != nil || serial <= 0 {
		return value
	}
	t, err := excelize.ExcelDateToTime(serial, date1904)
	if err != nil {
		return value
	}
	return t.Format(time.DateOnly)
}

func isEmpty(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
