// Package validator checks parsed spreadsheet rows against the reservation
// constraints. Rules live in a table and every row is checked in full; the
// first failing rule of a field hides the remaining rules of that field.
package validator

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cuongbtq/reservation-import/internal/domain"
)

// MaxGuestNameLength is the maximum number of characters in a guest name
const MaxGuestNameLength = 100

// MinDate is the earliest accepted check-in or check-out date
var MinDate = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// DateLayouts are the accepted textual date formats, tried in order
var DateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02.01.2006",
	"01/02/2006",
}

// candidate is a row together with the values parsed out of it
type candidate struct {
	row domain.ReservationRow

	id   int64
	idOK bool

	checkIn    time.Time
	checkInOK  bool
	checkOut   time.Time
	checkOutOK bool

	maxDate time.Time
}

type rule struct {
	field    string
	requires []string
	valid    func(c *candidate) bool
	message  func(c *candidate) string
}

func static(msg string) func(*candidate) string {
	return func(*candidate) string { return msg }
}

func required(field string, value func(c *candidate) string) rule {
	return rule{
		field:   field,
		valid:   func(c *candidate) bool { return value(c) != "" },
		message: static(field + " is missing"),
	}
}

func dateRules(field string, value func(c *candidate) string, parsed func(c *candidate) (time.Time, bool)) []rule {
	return []rule{
		required(field, value),
		{
			field: field,
			valid: func(c *candidate) bool {
				_, ok := parsed(c)
				return ok
			},
			message: static(field + " has invalid date format"),
		},
		{
			field: field,
			valid: func(c *candidate) bool {
				t, _ := parsed(c)
				return !t.Before(MinDate)
			},
			message: static(fmt.Sprintf("minimal allowed date for %s is %s", field, MinDate.Format(time.DateOnly))),
		},
		{
			field: field,
			valid: func(c *candidate) bool {
				t, _ := parsed(c)
				return !t.After(c.maxDate)
			},
			message: func(c *candidate) string {
				return fmt.Sprintf("maximal allowed date for %s is %s", field, c.maxDate.Format(time.DateOnly))
			},
		},
	}
}

var rules = buildRules()

func buildRules() []rule {
	table := []rule{
		required(domain.FieldReservationID, func(c *candidate) string { return c.row.ReservationID }),
		{
			field:   domain.FieldReservationID,
			valid:   func(c *candidate) bool { return c.idOK },
			message: static(domain.FieldReservationID + " has invalid integer format"),
		},
		required(domain.FieldGuestName, func(c *candidate) string { return c.row.GuestName }),
		{
			field: domain.FieldGuestName,
			valid: func(c *candidate) bool {
				return utf8.RuneCountInString(c.row.GuestName) <= MaxGuestNameLength
			},
			message: static(fmt.Sprintf("%s must be shorter than or equal to %d characters", domain.FieldGuestName, MaxGuestNameLength)),
		},
		required(domain.FieldStatus, func(c *candidate) string { return c.row.Status }),
		{
			field: domain.FieldStatus,
			valid: func(c *candidate) bool {
				return domain.ReservationStatus(c.row.Status).Valid()
			},
			message: static(fmt.Sprintf("%s must be one of the following values: %s", domain.FieldStatus, joinStatuses())),
		},
	}

	table = append(table, dateRules(domain.FieldCheckInDate,
		func(c *candidate) string { return c.row.CheckInDate },
		func(c *candidate) (time.Time, bool) { return c.checkIn, c.checkInOK },
	)...)
	table = append(table, dateRules(domain.FieldCheckOutDate,
		func(c *candidate) string { return c.row.CheckOutDate },
		func(c *candidate) (time.Time, bool) { return c.checkOut, c.checkOutOK },
	)...)

	return append(table, rule{
		field:    domain.FieldCheckOutDate,
		requires: []string{domain.FieldCheckInDate},
		valid:    func(c *candidate) bool { return c.checkOut.After(c.checkIn) },
		message:  static("check out date must be after check in date"),
	})
}

func joinStatuses() string {
	names := make([]string, len(domain.ReservationStatuses))
	for i, s := range domain.ReservationStatuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

// MaxDate returns the latest accepted date relative to now
func MaxDate(now time.Time) time.Time {
	return now.UTC().AddDate(2, 0, 0)
}

func newCandidate(row domain.ReservationRow, now time.Time) *candidate {
	c := &candidate{row: row, maxDate: MaxDate(now)}
	c.id, c.idOK = ParseReservationID(row.ReservationID)
	if t, err := ParseDate(row.CheckInDate); err == nil {
		c.checkIn, c.checkInOK = t, true
	}
	if t, err := ParseDate(row.CheckOutDate); err == nil {
		c.checkOut, c.checkOutOK = t, true
	}
	return c
}

// ValidateRow returns every constraint violation of a single row. An empty
// result means the row is valid.
func ValidateRow(index int, row domain.ReservationRow, now time.Time) []domain.RowError {
	return newCandidate(row, now).validate(index)
}

func (c *candidate) validate(index int) []domain.RowError {
	var errs []domain.RowError
	failed := make(map[string]bool)

	for _, r := range rules {
		if failed[r.field] || anyFailed(failed, r.requires) {
			continue
		}
		if r.valid(c) {
			continue
		}
		failed[r.field] = true
		errs = append(errs, domain.RowError{
			Row:     index,
			Field:   r.field,
			Message: r.message(c),
		})
	}

	return errs
}

func anyFailed(failed map[string]bool, fields []string) bool {
	for _, f := range fields {
		if failed[f] {
			return true
		}
	}
	return false
}

// ValidateAll checks every row and converts the valid ones. When the error
// list is non-empty the returned reservations must not be applied.
func ValidateAll(rows []domain.ReservationRow, now time.Time) ([]domain.Reservation, []domain.RowError) {
	reservations := make([]domain.Reservation, 0, len(rows))
	var errs []domain.RowError

	for i, row := range rows {
		c := newCandidate(row, now)
		rowErrs := c.validate(i)
		if len(rowErrs) > 0 {
			errs = append(errs, rowErrs...)
			continue
		}
		reservations = append(reservations, domain.Reservation{
			ReservationID: c.id,
			GuestName:     row.GuestName,
			Status:        domain.ReservationStatus(row.Status),
			CheckInDate:   c.checkIn,
			CheckOutDate:  c.checkOut,
		})
	}

	return reservations, errs
}

// ParseReservationID accepts integers, including whole numbers written as floats
func ParseReservationID(raw string) (int64, bool) {
	if raw == "" {
		return 0, false
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

// ParseDate parses a cell value into a calendar date at midnight UTC
func ParseDate(raw string) (time.Time, error) {
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date %q", raw)
}
