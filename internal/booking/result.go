// Package booking enforces slot capacity and patient exclusivity when reservations
// are created, and manages their reschedule/cancel lifecycle.
package booking

import (
	"errors"

	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/events"
)

// ErrInvalidInput marks malformed list/range arguments.
var ErrInvalidInput = errors.New("booking: invalid input")

// Code is a machine-readable failure reason.
type Code string

const (
	CodePatientIDRequired Code = "patient_id_required"
	CodeInvalidRequest    Code = "invalid_request"
	CodeOutsideHours      Code = "outside_hours"
	CodeInvalidSlot       Code = "invalid_slot"
	CodeInvalidTime       Code = "invalid_time"
	CodeAlreadyReserved   Code = "already_reserved"
	CodeSlotFull          Code = "slot_full"
	CodeNotFound          Code = "reserveId_not_found"
	CodeClosed            Code = "closed"
	CodeWeeklyClosed      Code = "weekly_closed"
	CodeMissingHours      Code = "missing_hours"
	CodeLockTimeout       Code = "lock_timeout"
	CodeInternal          Code = "internal_error"
)

// Result is the structured outcome of a create/update/cancel call.
type Result struct {
	OK               bool              `json:"ok"`
	ReserveID        string            `json:"reserveId,omitempty"`
	Error            Code              `json:"error,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	MirrorSyncStatus events.SyncStatus `json:"mirrorSyncStatus,omitempty"`
}

func fail(code Code, reason string) Result {
	return Result{Error: code, Reason: reason}
}

// resultLabel is the metrics label for r.
func resultLabel(r Result) string {
	if r.OK {
		return "ok"
	}
	return string(r.Error)
}

// CreateRequest books one slot. Date and Time may be in any format the
// datetime package understands.
type CreateRequest struct {
	DoctorID    string `json:"doctor_id,omitempty"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name,omitempty"`
	ReserveID   string `json:"reserveId,omitempty"`
}

// UpdateRequest moves an existing reservation to a new date and time.
type UpdateRequest struct {
	ReserveID string `json:"reserveId"`
	Date      string `json:"date"`
	Time      string `json:"time"`
}

// SlotCount is the number of non-canceled reservations in one slot.
type SlotCount struct {
	Date  string `json:"date"`
	Time  string `json:"time"`
	Count int    `json:"count"`
}
