package domain

import "time"

// ReservationStatus is the state of a hotel reservation
type ReservationStatus string

// Reservation status constants
const (
	ReservationStatusPending   ReservationStatus = "PENDING"
	ReservationStatusCompleted ReservationStatus = "COMPLETED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
)

// ReservationStatuses lists every known reservation status
var ReservationStatuses = []ReservationStatus{
	ReservationStatusPending,
	ReservationStatusCompleted,
	ReservationStatusCancelled,
}

// Valid reports whether s is a known reservation status
func (s ReservationStatus) Valid() bool {
	for _, known := range ReservationStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the reservation is not expected to change further
func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationStatusCompleted || s == ReservationStatusCancelled
}

// Spreadsheet column names, also used as RowError field names
const (
	FieldReservationID = "reservation_id"
	FieldGuestName     = "guest_name"
	FieldStatus        = "status"
	FieldCheckInDate   = "check_in_date"
	FieldCheckOutDate  = "check_out_date"
)

// Reservation is a booking record keyed by its business identifier
type Reservation struct {
	ReservationID int64
	GuestName     string
	Status        ReservationStatus
	CheckInDate   time.Time
	CheckOutDate  time.Time
}

// ReservationRow is one spreadsheet row after column renaming and status
// translation, before any parsing. Values are trimmed cell text.
type ReservationRow struct {
	ReservationID string
	GuestName     string
	Status        string
	CheckInDate   string
	CheckOutDate  string
}

// RowError describes a single constraint violation in a parsed row
type RowError struct {
	Row     int    // zero-based index into the data rows
	Field   string // column name of the offending attribute
	Message string
}

// UpsertResult counts what a batch upsert did
type UpsertResult struct {
	Upserted      int
	StatusUpdated int
	Skipped       int
}
