package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// ErrPatientSchema is returned when the patient-record table or a column is missing.
var ErrPatientSchema = errors.New("mirror: patient record schema mismatch")

// PatientRecordMirror writes next-visit fields into the clinic's patient-record
// database, keyed by patient id.
type PatientRecordMirror struct {
	db    *sql.DB
	table string
}

var _ PatientMirror = (*PatientRecordMirror)(nil)

func NewPatientRecordMirror(db *sql.DB, table string) *PatientRecordMirror {
	if db == nil {
		panic("mirror: sql db required")
	}
	if strings.TrimSpace(table) == "" {
		table = "patient_records"
	}
	return &PatientRecordMirror{db: db, table: table}
}

func (m *PatientRecordMirror) UpsertByPatient(ctx context.Context, patientID string, fields PatientFields) error {
	if strings.TrimSpace(patientID) == "" {
		return errors.New("mirror: patient id required")
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (patient_id, patient_name, doctor_id, reserve_id, next_visit_date, next_visit_time, reservation_status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (patient_id) DO UPDATE SET
			patient_name = COALESCE(NULLIF(EXCLUDED.patient_name, ''), %s.patient_name),
			doctor_id = EXCLUDED.doctor_id,
			reserve_id = EXCLUDED.reserve_id,
			next_visit_date = EXCLUDED.next_visit_date,
			next_visit_time = EXCLUDED.next_visit_time,
			reservation_status = EXCLUDED.reservation_status,
			updated_at = now()`, pq.QuoteIdentifier(m.table), pq.QuoteIdentifier(m.table))

	_, err := m.db.ExecContext(ctx, query,
		patientID,
		fields.PatientName,
		fields.DoctorID,
		fields.ReserveID,
		nullable(fields.NextVisitDate),
		nullable(fields.NextVisitTime),
		fields.Status,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && (pqErr.Code == "42P01" || pqErr.Code == "42703") {
			return fmt.Errorf("%w: %s", ErrPatientSchema, pqErr.Message)
		}
		return fmt.Errorf("mirror: upsert patient %s: %w", patientID, err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
