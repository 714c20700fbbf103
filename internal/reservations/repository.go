package reservations

import (
	"context"
	"sync"
	"time"

	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/datetime"
)

// Repository is the reservation store contract. Occupancy and ListActiveByDate hide
// the scan strategy so a store with real indexes can answer them directly.
type Repository interface {
	Insert(ctx context.Context, r Reservation) error
	UpdateByKey(ctx context.Context, reserveID string, fields Fields) (Reservation, error)
	Get(ctx context.Context, reserveID string) (Reservation, error)
	ScanAll(ctx context.Context) ([]Reservation, error)
	Occupancy(ctx context.Context, date, clock, patientID string) (Occupancy, error)
	ListActiveByDate(ctx context.Context, date string) ([]Reservation, error)
}

// CountOccupancy makes a single pass over rows, counting non-canceled rows at
// (date, clock) and flagging any non-canceled row held by patientID. Stored values are
// normalized before comparison so legacy rows in other formats still count.
func CountOccupancy(rows []Reservation, date, clock, patientID string) Occupancy {
	var occ Occupancy
	for _, row := range rows {
		if row.Status.IsCanceled() {
			continue
		}
		if patientID != "" && row.PatientID == patientID && !occ.HasActiveReservation {
			occ.HasActiveReservation = true
			occ.ActiveReserveID = row.ReserveID
		}
		if datetime.NormalizeDate(row.Date) == date && datetime.NormalizeTime(row.Time) == clock {
			occ.Count++
		}
	}
	return occ
}

// ActiveOnDate filters rows to non-canceled ones on date, with normalized date/time.
func ActiveOnDate(rows []Reservation, date string) []Reservation {
	var out []Reservation
	for _, row := range rows {
		if row.Status.IsCanceled() {
			continue
		}
		row.Date = datetime.NormalizeDate(row.Date)
		if row.Date != date {
			continue
		}
		row.Time = datetime.NormalizeTime(row.Time)
		out = append(out, row)
	}
	return out
}

// InMemoryRepository keeps reservations in insertion order.
type InMemoryRepository struct {
	mu    sync.RWMutex
	rows  []Reservation
	index map[string]int
}

var _ Repository = (*InMemoryRepository)(nil)

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{index: make(map[string]int)}
}

func (r *InMemoryRepository) Insert(ctx context.Context, res Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.index[res.ReserveID]; exists {
		return ErrDuplicateID
	}
	now := time.Now().UTC()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = now
	r.index[res.ReserveID] = len(r.rows)
	r.rows = append(r.rows, res)
	return nil
}

func (r *InMemoryRepository) UpdateByKey(ctx context.Context, reserveID string, fields Fields) (Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[reserveID]
	if !ok {
		return Reservation{}, ErrNotFound
	}
	row := r.rows[i]
	if fields.Date != nil {
		row.Date = *fields.Date
	}
	if fields.Time != nil {
		row.Time = *fields.Time
	}
	if fields.Status != nil {
		row.Status = *fields.Status
	}
	row.UpdatedAt = time.Now().UTC()
	r.rows[i] = row
	return row, nil
}

func (r *InMemoryRepository) Get(ctx context.Context, reserveID string) (Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[reserveID]
	if !ok {
		return Reservation{}, ErrNotFound
	}
	return r.rows[i], nil
}

func (r *InMemoryRepository) ScanAll(ctx context.Context) ([]Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Reservation, len(r.rows))
	copy(out, r.rows)
	return out, nil
}

func (r *InMemoryRepository) Occupancy(ctx context.Context, date, clock, patientID string) (Occupancy, error) {
	rows, err := r.ScanAll(ctx)
	if err != nil {
		return Occupancy{}, err
	}
	return CountOccupancy(rows, date, clock, patientID), nil
}

func (r *InMemoryRepository) ListActiveByDate(ctx context.Context, date string) ([]Reservation, error) {
	rows, err := r.ScanAll(ctx)
	if err != nil {
		return nil, err
	}
	return ActiveOnDate(rows, date), nil
}
