package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const reservationColumns = `reserve_id, doctor_id, patient_id, patient_name, visit_date, visit_time, status, created_at, updated_at`

// PostgresRepository persists reservations in the reservations table. Dates and times
// are stored canonical (enforced by table constraints), so Occupancy can aggregate in
// SQL with the same result as a normalized scan.
type PostgresRepository struct {
	db DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repository backed by a pgx pool.
func NewPostgresRepository(db DB) *PostgresRepository {
	if db == nil {
		panic("reservations: db required")
	}
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, res Reservation) error {
	now := time.Now().UTC()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		res.ReserveID, res.DoctorID, res.PatientID, res.PatientName,
		res.Date, res.Time, string(res.Status), res.CreatedAt, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateID
		}
		return fmt.Errorf("reservations: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateByKey(ctx context.Context, reserveID string, fields Fields) (Reservation, error) {
	var status *string
	if fields.Status != nil {
		s := string(*fields.Status)
		status = &s
	}
	row := r.db.QueryRow(ctx, `
		UPDATE reservations SET
			visit_date = COALESCE($2, visit_date),
			visit_time = COALESCE($3, visit_time),
			status = COALESCE($4, status),
			updated_at = now()
		WHERE reserve_id = $1
		RETURNING `+reservationColumns,
		reserveID, fields.Date, fields.Time, status,
	)
	res, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrNotFound
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("reservations: update %s: %w", reserveID, err)
	}
	return res, nil
}

func (r *PostgresRepository) Get(ctx context.Context, reserveID string) (Reservation, error) {
	row := r.db.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE reserve_id = $1`, reserveID)
	res, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrNotFound
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("reservations: get %s: %w", reserveID, err)
	}
	return res, nil
}

func (r *PostgresRepository) ScanAll(ctx context.Context) ([]Reservation, error) {
	rows, err := r.db.Query(ctx, `SELECT `+reservationColumns+` FROM reservations ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("reservations: scan all: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func (r *PostgresRepository) Occupancy(ctx context.Context, date, clock, patientID string) (Occupancy, error) {
	var occ Occupancy
	var activeID string
	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE visit_date = $1 AND visit_time = $2),
			COALESCE(MIN(reserve_id) FILTER (WHERE patient_id = $3 AND $3 <> ''), '')
		FROM reservations
		WHERE lower(status) NOT IN ('canceled', 'cancelled')`,
		date, clock, patientID,
	).Scan(&occ.Count, &activeID)
	if err != nil {
		return Occupancy{}, fmt.Errorf("reservations: occupancy: %w", err)
	}
	occ.ActiveReserveID = activeID
	occ.HasActiveReservation = activeID != ""
	return occ, nil
}

func (r *PostgresRepository) ListActiveByDate(ctx context.Context, date string) ([]Reservation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE visit_date = $1 AND lower(status) NOT IN ('canceled', 'cancelled')
		ORDER BY visit_time ASC, created_at ASC`, date)
	if err != nil {
		return nil, fmt.Errorf("reservations: list by date: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func scanReservation(row pgx.Row) (Reservation, error) {
	var res Reservation
	var status string
	err := row.Scan(&res.ReserveID, &res.DoctorID, &res.PatientID, &res.PatientName,
		&res.Date, &res.Time, &status, &res.CreatedAt, &res.UpdatedAt)
	res.Status = Status(status)
	return res, err
}

func collect(rows pgx.Rows) ([]Reservation, error) {
	var out []Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("reservations: scan row: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
