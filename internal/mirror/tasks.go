// Package mirror pushes committed reservation state to the eventually consistent
// copies other subsystems read: the patient-record database, the reservation table
// in DynamoDB, the patient cache, and the reservation change feed.
package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/events"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/reservations"
)

const (
	TaskPatientUpsert      = "mirror.patient.upsert"
	TaskReservationUpsert  = "mirror.reservation.upsert"
	TaskPatientInvalidate  = "cache.patient.invalidate"
	TaskReservationChanged = "feed.reservation.changed"
)

// ChangeKind names the lifecycle step that produced a change.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeUpdated  ChangeKind = "updated"
	ChangeCanceled ChangeKind = "canceled"
)

// Change is a committed reservation write.
type Change struct {
	Kind        ChangeKind
	Reservation reservations.Reservation
}

// PatientFields is the scheduling slice of a patient record. Cancel clears the
// next-visit columns.
type PatientFields struct {
	PatientID     string `json:"patient_id"`
	PatientName   string `json:"patient_name,omitempty"`
	DoctorID      string `json:"doctor_id,omitempty"`
	ReserveID     string `json:"reserve_id,omitempty"`
	NextVisitDate string `json:"next_visit_date,omitempty"`
	NextVisitTime string `json:"next_visit_time,omitempty"`
	Status        string `json:"status"`
}

// ReservationFields is the denormalized reservation row.
type ReservationFields struct {
	ReserveID   string     `json:"reserveId" dynamodbav:"reserveId"`
	PatientID   string     `json:"patient_id" dynamodbav:"patientId"`
	PatientName string     `json:"patient_name,omitempty" dynamodbav:"patientName,omitempty"`
	DoctorID    string     `json:"doctor_id,omitempty" dynamodbav:"doctorId,omitempty"`
	Date        string     `json:"date" dynamodbav:"date"`
	Time        string     `json:"time" dynamodbav:"time"`
	Status      string     `json:"status" dynamodbav:"status"`
	Change      ChangeKind `json:"change" dynamodbav:"change"`
	UpdatedAt   string     `json:"updated_at" dynamodbav:"updatedAt"`
}

type invalidatePayload struct {
	PatientID string `json:"patient_id"`
}

type (
	PatientMirror interface {
		UpsertByPatient(ctx context.Context, patientID string, fields PatientFields) error
	}
	ReservationMirror interface {
		UpsertReservation(ctx context.Context, fields ReservationFields) error
	}
	CacheInvalidator interface {
		Invalidate(ctx context.Context, patientID string) error
	}
	ReservationFeed interface {
		Publish(ctx context.Context, fields ReservationFields) error
	}
)

// NewTasks builds the post-commit entries for change, one per downstream target.
func NewTasks(change Change) ([]events.OutboxEntry, error) {
	r := change.Reservation
	updatedAt := r.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	status := string(r.Status)
	if change.Kind == ChangeCanceled {
		status = string(reservations.StatusCanceled)
	}

	patient := PatientFields{
		PatientID:     r.PatientID,
		PatientName:   r.PatientName,
		DoctorID:      r.DoctorID,
		ReserveID:     r.ReserveID,
		NextVisitDate: r.Date,
		NextVisitTime: r.Time,
		Status:        status,
	}
	if change.Kind == ChangeCanceled {
		patient.NextVisitDate = ""
		patient.NextVisitTime = ""
	}

	row := ReservationFields{
		ReserveID:   r.ReserveID,
		PatientID:   r.PatientID,
		PatientName: r.PatientName,
		DoctorID:    r.DoctorID,
		Date:        r.Date,
		Time:        r.Time,
		Status:      status,
		Change:      change.Kind,
		UpdatedAt:   updatedAt.UTC().Format(time.RFC3339Nano),
	}

	specs := []struct {
		taskType string
		payload  any
	}{
		{TaskPatientUpsert, patient},
		{TaskReservationUpsert, row},
		{TaskPatientInvalidate, invalidatePayload{PatientID: r.PatientID}},
		{TaskReservationChanged, row},
	}
	entries := make([]events.OutboxEntry, 0, len(specs))
	for _, spec := range specs {
		entry, err := events.NewEntry(r.ReserveID, spec.taskType, spec.payload)
		if err != nil {
			return nil, fmt.Errorf("mirror: build %s: %w", spec.taskType, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Targets are the downstream writers. Nil targets are not routed; Configured drops
// their tasks before dispatch.
type Targets struct {
	Patients     PatientMirror
	Reservations ReservationMirror
	Cache        CacheInvalidator
	Feed         ReservationFeed
}

// NewRouter routes task types to the configured targets.
func NewRouter(t Targets) *events.Router {
	router := events.NewRouter()
	if t.Patients != nil {
		router.Register(TaskPatientUpsert, events.HandlerFunc(func(ctx context.Context, e events.OutboxEntry) error {
			var fields PatientFields
			if err := e.Decode(&fields); err != nil {
				return err
			}
			return t.Patients.UpsertByPatient(ctx, fields.PatientID, fields)
		}))
	}
	if t.Reservations != nil {
		router.Register(TaskReservationUpsert, events.HandlerFunc(func(ctx context.Context, e events.OutboxEntry) error {
			var fields ReservationFields
			if err := e.Decode(&fields); err != nil {
				return err
			}
			return t.Reservations.UpsertReservation(ctx, fields)
		}))
	}
	if t.Cache != nil {
		router.Register(TaskPatientInvalidate, events.HandlerFunc(func(ctx context.Context, e events.OutboxEntry) error {
			var p invalidatePayload
			if err := e.Decode(&p); err != nil {
				return err
			}
			return t.Cache.Invalidate(ctx, p.PatientID)
		}))
	}
	if t.Feed != nil {
		router.Register(TaskReservationChanged, events.HandlerFunc(func(ctx context.Context, e events.OutboxEntry) error {
			var fields ReservationFields
			if err := e.Decode(&fields); err != nil {
				return err
			}
			return t.Feed.Publish(ctx, fields)
		}))
	}
	return router
}

// Configured filters entries to the task types router can deliver.
func Configured(router *events.Router, entries []events.OutboxEntry) []events.OutboxEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if router.Handles(e.Type) {
			out = append(out, e)
		}
	}
	return out
}
