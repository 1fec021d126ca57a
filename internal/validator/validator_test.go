package validator

import (
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/reservation-import/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

func validRow() domain.ReservationRow {
	return domain.ReservationRow{
		ReservationID: "1",
		GuestName:     "John",
		Status:        "PENDING",
		CheckInDate:   "2024-01-01",
		CheckOutDate:  "2024-01-05",
	}
}

func TestValidateRow(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(r *domain.ReservationRow)
		wantFields []string
		wantMsg    string
	}{
		{
			name:   "valid row",
			mutate: func(r *domain.ReservationRow) {},
		},
		{
			name:       "missing reservation id",
			mutate:     func(r *domain.ReservationRow) { r.ReservationID = "" },
			wantFields: []string{domain.FieldReservationID},
			wantMsg:    "reservation_id is missing",
		},
		{
			name:       "reservation id is not an integer",
			mutate:     func(r *domain.ReservationRow) { r.ReservationID = "1.5" },
			wantFields: []string{domain.FieldReservationID},
			wantMsg:    "reservation_id has invalid integer format",
		},
		{
			name:       "guest name too long",
			mutate:     func(r *domain.ReservationRow) { r.GuestName = strings.Repeat("a", 101) },
			wantFields: []string{domain.FieldGuestName},
		},
		{
			name:   "guest name of exactly 100 multibyte characters",
			mutate: func(r *domain.ReservationRow) { r.GuestName = strings.Repeat("ż", 100) },
		},
		{
			name:       "untranslated status",
			mutate:     func(r *domain.ReservationRow) { r.Status = "w trakcie" },
			wantFields: []string{domain.FieldStatus},
			wantMsg:    "status must be one of the following values: PENDING, COMPLETED, CANCELLED",
		},
		{
			name:       "check in date before 2000",
			mutate:     func(r *domain.ReservationRow) { r.CheckInDate = "1999-12-31" },
			wantFields: []string{domain.FieldCheckInDate},
			wantMsg:    "minimal allowed date for check_in_date is 2000-01-01",
		},
		{
			name: "check out date more than two years ahead",
			mutate: func(r *domain.ReservationRow) {
				r.CheckOutDate = "2026-06-02"
			},
			wantFields: []string{domain.FieldCheckOutDate},
			wantMsg:    "maximal allowed date for check_out_date is 2026-06-01",
		},
		{
			name:       "unparseable date",
			mutate:     func(r *domain.ReservationRow) { r.CheckInDate = "yesterday" },
			wantFields: []string{domain.FieldCheckInDate},
			wantMsg:    "check_in_date has invalid date format",
		},
		{
			name: "check out before check in",
			mutate: func(r *domain.ReservationRow) {
				r.CheckInDate = "2024-01-05"
				r.CheckOutDate = "2024-01-01"
			},
			wantFields: []string{domain.FieldCheckOutDate},
			wantMsg:    "check out date must be after check in date",
		},
		{
			name:       "check out equal to check in",
			mutate:     func(r *domain.ReservationRow) { r.CheckOutDate = r.CheckInDate },
			wantFields: []string{domain.FieldCheckOutDate},
		},
		{
			name: "ordering rule skipped when check in is invalid",
			mutate: func(r *domain.ReservationRow) {
				r.CheckInDate = ""
				r.CheckOutDate = "2024-01-01"
			},
			wantFields: []string{domain.FieldCheckInDate},
		},
		{
			name: "every field is collected",
			mutate: func(r *domain.ReservationRow) {
				*r = domain.ReservationRow{}
			},
			wantFields: []string{
				domain.FieldReservationID,
				domain.FieldGuestName,
				domain.FieldStatus,
				domain.FieldCheckInDate,
				domain.FieldCheckOutDate,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := validRow()
			tt.mutate(&row)

			errs := ValidateRow(3, row, testNow)

			fields := make([]string, 0, len(errs))
			for _, e := range errs {
				assert.Equal(t, 3, e.Row)
				fields = append(fields, e.Field)
			}
			if len(tt.wantFields) == 0 {
				assert.Empty(t, errs)
				return
			}
			assert.Equal(t, tt.wantFields, fields)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, errs[0].Message)
			}
		})
	}
}

func TestValidateAll(t *testing.T) {
	bad := validRow()
	bad.GuestName = ""

	rows := []domain.ReservationRow{validRow(), bad, validRow()}

	reservations, errs := ValidateAll(rows, testNow)

	require.Len(t, errs, 1)
	assert.Equal(t, 1, errs[0].Row)
	assert.Equal(t, domain.FieldGuestName, errs[0].Field)

	require.Len(t, reservations, 2)
	assert.Equal(t, int64(1), reservations[0].ReservationID)
	assert.Equal(t, domain.ReservationStatusPending, reservations[0].Status)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), reservations[0].CheckInDate)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), reservations[0].CheckOutDate)
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC)

	for _, raw := range []string{"2024-03-09", "2024-03-09T15:04:05Z", "2024-03-09 10:00:00", "09.03.2024", "03/09/2024"} {
		t.Run(raw, func(t *testing.T) {
			got, err := ParseDate(raw)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	_, err := ParseDate("9th of March")
	assert.Error(t, err)
}

func TestParseReservationID(t *testing.T) {
	id, ok := ParseReservationID("42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	id, ok = ParseReservationID("42.0")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok = ParseReservationID("abc")
	assert.False(t, ok)
}
