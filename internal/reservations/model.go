package reservations

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no reservation has the requested reserveId.
	ErrNotFound = errors.New("reservations: not found")
	// ErrDuplicateID is returned when inserting a reserveId that already exists.
	ErrDuplicateID = errors.New("reservations: duplicate reserve id")
)

// Status is the reservation lifecycle state. The empty string means active; clinics
// may record their own post-visit states, which still occupy the slot.
type Status string

const (
	StatusActive   Status = ""
	StatusCanceled Status = "canceled"
)

// IsCanceled reports whether the status is the canceled sentinel (either spelling).
func (s Status) IsCanceled() bool {
	switch strings.ToLower(strings.TrimSpace(string(s))) {
	case "canceled", "cancelled":
		return true
	default:
		return false
	}
}

// Reservation is one booked slot. Rows are never hard-deleted.
type Reservation struct {
	ReserveID   string    `json:"reserveId"`
	DoctorID    string    `json:"doctor_id,omitempty"`
	PatientID   string    `json:"patient_id"`
	PatientName string    `json:"patient_name,omitempty"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Fields lists the columns UpdateByKey may rewrite. Nil leaves a column unchanged.
type Fields struct {
	Date   *string
	Time   *string
	Status *Status
}

// Occupancy is the outcome of one scan over non-canceled rows.
type Occupancy struct {
	// Count of non-canceled rows at the requested date and time.
	Count int
	// HasActiveReservation is true when the patient holds any non-canceled row.
	HasActiveReservation bool
	// ActiveReserveID identifies that row, when found.
	ActiveReserveID string
}

// SlotKey identifies a (date, time) bucket.
type SlotKey struct {
	Date string `json:"date"`
	Time string `json:"time"`
}
