package reservations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var columns = []string{"reserve_id", "doctor_id", "patient_id", "patient_name", "visit_date", "visit_time", "status", "created_at", "updated_at"}

func TestPostgresRepositoryInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewPostgresRepository(mock)
	res := Reservation{ReserveID: "resv-1", DoctorID: "doc-1", PatientID: "p1", PatientName: "Sato", Date: "2024-05-06", Time: "09:00"}

	mock.ExpectExec("INSERT INTO reservations").
		WithArgs("resv-1", "doc-1", "p1", "Sato", "2024-05-06", "09:00", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := repo.Insert(context.Background(), res); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	mock.ExpectExec("INSERT INTO reservations").
		WithArgs("resv-1", "doc-1", "p1", "Sato", "2024-05-06", "09:00", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	if err := repo.Insert(context.Background(), res); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected duplicate id error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepositoryOccupancy(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewPostgresRepository(mock)
	mock.ExpectQuery("FROM reservations").
		WithArgs("2024-05-06", "09:00", "p1").
		WillReturnRows(pgxmock.NewRows([]string{"count", "active_id"}).AddRow(2, "resv-9"))

	occ, err := repo.Occupancy(context.Background(), "2024-05-06", "09:00", "p1")
	if err != nil {
		t.Fatalf("occupancy failed: %v", err)
	}
	if occ.Count != 2 || !occ.HasActiveReservation || occ.ActiveReserveID != "resv-9" {
		t.Fatalf("unexpected occupancy: %#v", occ)
	}

	mock.ExpectQuery("FROM reservations").
		WithArgs("2024-05-06", "09:00", "p2").
		WillReturnRows(pgxmock.NewRows([]string{"count", "active_id"}).AddRow(0, ""))
	occ, err = repo.Occupancy(context.Background(), "2024-05-06", "09:00", "p2")
	if err != nil {
		t.Fatalf("occupancy failed: %v", err)
	}
	if occ.HasActiveReservation {
		t.Fatalf("expected no active reservation, got %#v", occ)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepositoryUpdateByKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewPostgresRepository(mock)
	now := time.Now().UTC()
	canceled := StatusCanceled
	status := string(canceled)

	mock.ExpectQuery("UPDATE reservations SET").
		WithArgs("resv-1", (*string)(nil), (*string)(nil), &status).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("resv-1", "doc-1", "p1", "Sato", "2024-05-06", "09:00", "canceled", now, now))

	got, err := repo.UpdateByKey(context.Background(), "resv-1", Fields{Status: &canceled})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !got.Status.IsCanceled() || got.Time != "09:00" {
		t.Fatalf("unexpected reservation: %#v", got)
	}

	mock.ExpectQuery("UPDATE reservations SET").
		WithArgs("missing", (*string)(nil), (*string)(nil), &status).
		WillReturnError(pgx.ErrNoRows)
	if _, err := repo.UpdateByKey(context.Background(), "missing", Fields{Status: &canceled}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepositoryListActiveByDate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewPostgresRepository(mock)
	now := time.Now().UTC()
	mock.ExpectQuery("WHERE visit_date = \\$1").
		WithArgs("2024-05-06").
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("resv-1", "doc-1", "p1", "Sato", "2024-05-06", "09:00", "", now, now).
			AddRow("resv-2", "doc-1", "p2", "Ito", "2024-05-06", "09:15", "", now, now))

	list, err := repo.ListActiveByDate(context.Background(), "2024-05-06")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[1].PatientName != "Ito" {
		t.Fatalf("unexpected list: %#v", list)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
