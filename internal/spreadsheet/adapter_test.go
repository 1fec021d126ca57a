package spreadsheet

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuongbtq/reservation-import/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, rows [][]any) string {
	t.Helper()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}

	path := filepath.Join(t.TempDir(), "reservations.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestLoad(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{" Reservation_ID ", "guest_name", "status", "check_in_date", "check_out_date", "notes"},
		{1, "John", "oczekująca", "2024-01-01", "2024-01-05", "ignored"},
		{},
		{"2", "  Anna  ", "Anulowana", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), "2024-02-03"},
		{3, "Piotr", "w trakcie", "", "2024-03-03"},
	})

	rows, err := Load(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, domain.ReservationRow{
		ReservationID: "1",
		GuestName:     "John",
		Status:        "PENDING",
		CheckInDate:   "2024-01-01",
		CheckOutDate:  "2024-01-05",
	}, rows[0])

	assert.Equal(t, "Anna", rows[1].GuestName)
	assert.Equal(t, "CANCELLED", rows[1].Status)
	assert.Equal(t, "2024-02-01", rows[1].CheckInDate)

	assert.Equal(t, "w trakcie", rows[2].Status)
	assert.Empty(t, rows[2].CheckInDate)
}

func TestLoad_HeaderOnly(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"reservation_id", "guest_name", "status", "check_in_date", "check_out_date"},
	})

	rows, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLoad_Unreadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("not a zip archive"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnreadableWorkbook)

	_, err = Load(filepath.Join(t.TempDir(), "missing.xlsx"))
	assert.ErrorIs(t, err, domain.ErrUnreadableWorkbook)
}

func TestTranslateStatus(t *testing.T) {
	tests := map[string]string{
		"oczekująca":   "PENDING",
		"zrealizowana": "COMPLETED",
		"anulowana":    "CANCELLED",
		"COMPLETED":    "COMPLETED",
		"unknown":      "unknown",
	}
	for in, want := range tests {
		assert.Equal(t, want, TranslateStatus(in), in)
	}
}

func TestSerialToDate(t *testing.T) {
	assert.Equal(t, "2024-01-01", serialToDate("45292", false))
	assert.Equal(t, "01.02.2024", serialToDate("01.02.2024", false))
	assert.Equal(t, "", serialToDate("", false))
}
