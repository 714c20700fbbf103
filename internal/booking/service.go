package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/datetime"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/events"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/locking"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/mirror"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/observability/metrics"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/reservations"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/schedule"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/pkg/logging"
)

var bookingTracer = otel.Tracer("clinic.internal.booking")

const (
	defaultLockTimeout = 25 * time.Second
	maxRangeDays       = 366
)

// MirrorSync pushes a committed change downstream and reports how it went.
type MirrorSync interface {
	Sync(ctx context.Context, change mirror.Change) events.SyncReport
}

// Config tunes the service.
type Config struct {
	DefaultDoctorID string
	LockScope       locking.Scope
	LockTimeout     time.Duration
}

// Service is the booking engine. Creates run under the scope lock, plus the patient
// and slot locks when the scope is finer than global; update and cancel only lock
// the reservation they touch.
type Service struct {
	repo     reservations.Repository
	resolver *schedule.Resolver
	locker   locking.Locker
	mirrors  MirrorSync
	cfg      Config
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
	newID    func() string
}

// NewService wires the booking engine. mirrors and m may be nil.
func NewService(repo reservations.Repository, resolver *schedule.Resolver, locker locking.Locker, mirrors MirrorSync, cfg Config, m *metrics.BookingMetrics, logger *logging.Logger) *Service {
	if repo == nil {
		panic("booking: repository required")
	}
	if resolver == nil {
		panic("booking: resolver required")
	}
	if locker == nil {
		locker = locking.NewKeyedMutex()
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if cfg.LockScope == "" {
		cfg.LockScope = locking.ScopeGlobal
	}
	return &Service{
		repo:     repo,
		resolver: resolver,
		locker:   locker,
		mirrors:  mirrors,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// CreateReservation books a slot. Schedule resolution, slot validation, the
// occupancy scan and the insert all happen while holding one lock, so concurrent
// creates for a slot cannot both see spare capacity.
func (s *Service) CreateReservation(ctx context.Context, req CreateRequest) (Result, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.create")
	defer span.End()

	patientID := strings.TrimSpace(req.PatientID)
	doctorID := s.doctor(req.DoctorID)
	date := datetime.NormalizeDate(req.Date)
	clock := datetime.NormalizeTime(req.Time)
	span.SetAttributes(
		attribute.String("clinic.doctor_id", doctorID),
		attribute.String("clinic.date", date),
		attribute.String("clinic.time", clock),
	)

	if patientID == "" {
		return s.finish("create", fail(CodePatientIDRequired, "")), nil
	}
	if res, ok := validateSlotInput(date, clock); !ok {
		return s.finish("create", res), nil
	}

	var committed *reservations.Reservation
	var result Result
	waitStart := time.Now()
	err := locking.WithLocks(ctx, s.locker, s.cfg.LockScope.CreateKeys(doctorID, date, clock, patientID), s.cfg.LockTimeout, func(ctx context.Context) error {
		s.metrics.ObserveLockWait(string(s.cfg.LockScope), time.Since(waitStart))

		eff, err := s.resolver.Resolve(ctx, doctorID, date)
		if err != nil {
			return err
		}
		if !eff.IsOpen {
			result = fail(Code(eff.Reason), eff.Reason)
			return nil
		}
		if res, ok := checkSlot(eff, clock); !ok {
			result = res
			return nil
		}

		occ, err := s.repo.Occupancy(ctx, date, clock, patientID)
		if err != nil {
			return err
		}
		if occ.HasActiveReservation {
			result = fail(CodeAlreadyReserved, occ.ActiveReserveID)
			return nil
		}
		if occ.Count >= eff.Capacity {
			result = fail(CodeSlotFull, "")
			return nil
		}

		reserveID := strings.TrimSpace(req.ReserveID)
		if reserveID == "" {
			reserveID = s.newID()
		}
		row := reservations.Reservation{
			ReserveID:   reserveID,
			DoctorID:    doctorID,
			PatientID:   patientID,
			PatientName: strings.TrimSpace(req.PatientName),
			Date:        date,
			Time:        clock,
			Status:      reservations.StatusActive,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.repo.Insert(ctx, row); err != nil {
			if errors.Is(err, reservations.ErrDuplicateID) {
				result = fail(CodeInvalidRequest, "duplicate_reserve_id")
				return nil
			}
			return err
		}
		committed = &row
		result = Result{OK: true, ReserveID: reserveID}
		return nil
	})
	if errors.Is(err, locking.ErrLockTimeout) {
		s.logger.Warn("booking lock timeout", "doctor_id", doctorID, "date", date, "time", clock)
		return s.finish("create", fail(CodeLockTimeout, "")), nil
	}
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveRequest("create", string(CodeInternal))
		return Result{}, fmt.Errorf("booking: create: %w", err)
	}

	if committed != nil {
		s.logger.Info("reservation created", "reserve_id", committed.ReserveID, "doctor_id", doctorID, "patient_id", patientID, "date", date, "time", clock)
		result.MirrorSyncStatus = s.sync(ctx, mirror.ChangeCreated, *committed)
	}
	return s.finish("create", result), nil
}

// UpdateReservation rewrites the date and time of an active reservation in place.
// Capacity and exclusivity are not re-checked.
func (s *Service) UpdateReservation(ctx context.Context, req UpdateRequest) (Result, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.update")
	defer span.End()

	reserveID := strings.TrimSpace(req.ReserveID)
	date := datetime.NormalizeDate(req.Date)
	clock := datetime.NormalizeTime(req.Time)
	span.SetAttributes(attribute.String("clinic.reserve_id", reserveID))

	if reserveID == "" {
		return s.finish("update", fail(CodeInvalidRequest, "reserveId_required")), nil
	}
	if res, ok := validateSlotInput(date, clock); !ok {
		return s.finish("update", res), nil
	}

	var updated *reservations.Reservation
	var result Result
	err := s.withReservation(ctx, reserveID, func(ctx context.Context, current reservations.Reservation) (Result, error) {
		if current.Status.IsCanceled() {
			return fail(CodeInvalidRequest, "canceled"), nil
		}
		row, err := s.repo.UpdateByKey(ctx, reserveID, reservations.Fields{Date: &date, Time: &clock})
		if err != nil {
			return Result{}, err
		}
		updated = &row
		return Result{OK: true, ReserveID: reserveID}, nil
	}, &result)
	if errors.Is(err, locking.ErrLockTimeout) {
		return s.finish("update", fail(CodeLockTimeout, "")), nil
	}
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveRequest("update", string(CodeInternal))
		return Result{}, fmt.Errorf("booking: update: %w", err)
	}

	if updated != nil {
		s.logger.Info("reservation updated", "reserve_id", reserveID, "date", date, "time", clock)
		result.MirrorSyncStatus = s.sync(ctx, mirror.ChangeUpdated, *updated)
	}
	return s.finish("update", result), nil
}

// CancelReservation soft-deletes a reservation. Canceling a canceled reservation
// succeeds without writing.
func (s *Service) CancelReservation(ctx context.Context, reserveID string) (Result, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.cancel")
	defer span.End()

	reserveID = strings.TrimSpace(reserveID)
	span.SetAttributes(attribute.String("clinic.reserve_id", reserveID))
	if reserveID == "" {
		return s.finish("cancel", fail(CodeInvalidRequest, "reserveId_required")), nil
	}

	var canceled *reservations.Reservation
	var result Result
	err := s.withReservation(ctx, reserveID, func(ctx context.Context, current reservations.Reservation) (Result, error) {
		if current.Status.IsCanceled() {
			return Result{OK: true, ReserveID: reserveID, MirrorSyncStatus: events.SyncSkipped}, nil
		}
		status := reservations.StatusCanceled
		row, err := s.repo.UpdateByKey(ctx, reserveID, reservations.Fields{Status: &status})
		if err != nil {
			return Result{}, err
		}
		canceled = &row
		return Result{OK: true, ReserveID: reserveID}, nil
	}, &result)
	if errors.Is(err, locking.ErrLockTimeout) {
		return s.finish("cancel", fail(CodeLockTimeout, "")), nil
	}
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveRequest("cancel", string(CodeInternal))
		return Result{}, fmt.Errorf("booking: cancel: %w", err)
	}

	if canceled != nil {
		s.logger.Info("reservation canceled", "reserve_id", reserveID, "patient_id", canceled.PatientID)
		result.MirrorSyncStatus = s.sync(ctx, mirror.ChangeCanceled, *canceled)
	}
	return s.finish("cancel", result), nil
}

// ListByDate returns the non-canceled reservations on date, ordered by time.
func (s *Service) ListByDate(ctx context.Context, rawDate string) ([]reservations.Reservation, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.list_by_date")
	defer span.End()

	date := datetime.NormalizeDate(rawDate)
	if _, ok := datetime.ParseDate(date); !ok {
		return nil, fmt.Errorf("%w: date %q", ErrInvalidInput, rawDate)
	}
	span.SetAttributes(attribute.String("clinic.date", date))

	rows, err := s.repo.ListActiveByDate(ctx, date)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("booking: list by date: %w", err)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time < rows[j].Time })
	if rows == nil {
		rows = []reservations.Reservation{}
	}
	return rows, nil
}

// RangeResult is the calendar view for [Start, End].
type RangeResult struct {
	Start string                       `json:"start"`
	End   string                       `json:"end"`
	Slots []SlotCount                  `json:"slots"`
	Days  []schedule.EffectiveSchedule `json:"days"`
}

// ListRange counts non-canceled reservations per slot over an inclusive date range.
// Slots on a day that resolves closed report a count of zero.
func (s *Service) ListRange(ctx context.Context, rawStart, rawEnd, rawDoctorID string) (RangeResult, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.list_range")
	defer span.End()

	start := datetime.NormalizeDate(rawStart)
	end := datetime.NormalizeDate(rawEnd)
	doctorID := s.doctor(rawDoctorID)
	from, okFrom := datetime.ParseDate(start)
	to, okTo := datetime.ParseDate(end)
	if !okFrom || !okTo || to.Before(from) {
		return RangeResult{}, fmt.Errorf("%w: range %q..%q", ErrInvalidInput, rawStart, rawEnd)
	}
	if to.Sub(from) >= maxRangeDays*24*time.Hour {
		return RangeResult{}, fmt.Errorf("%w: range exceeds %d days", ErrInvalidInput, maxRangeDays)
	}
	days := datetime.DatesBetween(start, end)
	span.SetAttributes(
		attribute.String("clinic.doctor_id", doctorID),
		attribute.String("clinic.range_start", start),
		attribute.String("clinic.range_end", end),
	)

	rows, err := s.repo.ScanAll(ctx)
	if err != nil {
		span.RecordError(err)
		return RangeResult{}, fmt.Errorf("booking: list range: %w", err)
	}
	counts := map[reservations.SlotKey]int{}
	for _, row := range rows {
		if row.Status.IsCanceled() {
			continue
		}
		key := reservations.SlotKey{Date: datetime.NormalizeDate(row.Date), Time: datetime.NormalizeTime(row.Time)}
		if key.Date < start || key.Date > end {
			continue
		}
		counts[key]++
	}

	result := RangeResult{Start: start, End: end, Days: make([]schedule.EffectiveSchedule, 0, len(days))}
	open := make(map[string]bool, len(days))
	for _, day := range days {
		eff, err := s.resolver.Resolve(ctx, doctorID, day)
		if err != nil {
			span.RecordError(err)
			return RangeResult{}, fmt.Errorf("booking: list range: %w", err)
		}
		open[day] = eff.IsOpen
		result.Days = append(result.Days, eff)
	}

	result.Slots = make([]SlotCount, 0, len(counts))
	for key, n := range counts {
		if !open[key.Date] {
			n = 0
		}
		result.Slots = append(result.Slots, SlotCount{Date: key.Date, Time: key.Time, Count: n})
	}
	sort.Slice(result.Slots, func(i, j int) bool {
		if result.Slots[i].Date != result.Slots[j].Date {
			return result.Slots[i].Date < result.Slots[j].Date
		}
		return result.Slots[i].Time < result.Slots[j].Time
	})
	return result, nil
}

// EffectiveSchedule resolves the schedule for a doctor and date.
func (s *Service) EffectiveSchedule(ctx context.Context, rawDoctorID, rawDate string) (schedule.EffectiveSchedule, error) {
	date := datetime.NormalizeDate(rawDate)
	eff, err := s.resolver.Resolve(ctx, s.doctor(rawDoctorID), date)
	if errors.Is(err, schedule.ErrInvalidDate) {
		return schedule.EffectiveSchedule{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return eff, err
}

// withReservation loads reserveID under its lifecycle lock and runs fn on it.
func (s *Service) withReservation(ctx context.Context, reserveID string, fn func(context.Context, reservations.Reservation) (Result, error), out *Result) error {
	return locking.WithLock(ctx, s.locker, locking.ReservationKey(reserveID), s.cfg.LockTimeout, func(ctx context.Context) error {
		current, err := s.repo.Get(ctx, reserveID)
		if errors.Is(err, reservations.ErrNotFound) {
			*out = fail(CodeNotFound, "")
			return nil
		}
		if err != nil {
			return err
		}
		res, err := fn(ctx, current)
		if errors.Is(err, reservations.ErrNotFound) {
			*out = fail(CodeNotFound, "")
			return nil
		}
		if err != nil {
			return err
		}
		*out = res
		return nil
	})
}

func (s *Service) sync(ctx context.Context, kind mirror.ChangeKind, row reservations.Reservation) events.SyncStatus {
	if s.mirrors == nil {
		return events.SyncSkipped
	}
	report := s.mirrors.Sync(ctx, mirror.Change{Kind: kind, Reservation: row})
	if report.Status == events.SyncPartial || report.Status == events.SyncFailed {
		s.logger.Warn("mirror sync incomplete", "reserve_id", row.ReserveID, "status", report.Status)
	}
	return report.Status
}

func (s *Service) finish(op string, r Result) Result {
	s.metrics.ObserveRequest(op, resultLabel(r))
	return r
}

func (s *Service) doctor(raw string) string {
	if id := strings.TrimSpace(raw); id != "" {
		return id
	}
	return s.cfg.DefaultDoctorID
}

// validateSlotInput checks the normalized date and time are well-formed.
func validateSlotInput(date, clock string) (Result, bool) {
	if date == "" || clock == "" {
		return fail(CodeInvalidRequest, "date_time_required"), false
	}
	if _, ok := datetime.ParseDate(date); !ok {
		return fail(CodeInvalidRequest, "invalid_date"), false
	}
	if _, ok := datetime.ClockMinutes(clock); !ok {
		return fail(CodeInvalidTime, ""), false
	}
	return Result{}, true
}

// checkSlot requires clock to fall in [Start, End) on a SlotMinutes boundary.
func checkSlot(eff schedule.EffectiveSchedule, clock string) (Result, bool) {
	t, _ := datetime.ClockMinutes(clock)
	start, okStart := datetime.ClockMinutes(eff.Start)
	end, okEnd := datetime.ClockMinutes(eff.End)
	if !okStart || !okEnd {
		return fail(CodeMissingHours, schedule.ReasonMissingHours), false
	}
	if t < start || t >= end {
		return fail(CodeOutsideHours, ""), false
	}
	if eff.SlotMinutes > 0 && (t-start)%eff.SlotMinutes != 0 {
		return fail(CodeInvalidSlot, ""), false
	}
	return Result{}, true
}
