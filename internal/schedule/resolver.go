package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/datetime"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/pkg/logging"
)

var scheduleTracer = otel.Tracer("clinic.internal.schedule")

// ErrInvalidDate is returned when the date is not a canonical "YYYY-MM-DD" value.
var ErrInvalidDate = errors.New("schedule: invalid date")

// RuleStore is the read contract the resolver needs.
type RuleStore interface {
	WeeklyRule(ctx context.Context, doctorID string, weekday time.Weekday) (*WeeklyRule, error)
	DateOverrides(ctx context.Context, doctorID string) ([]DateOverride, error)
}

// Defaults apply when a doctor has no weekly row for the weekday.
type Defaults struct {
	SlotMinutes int
	Capacity    int
}

// Resolver combines weekly rules with date overrides. Nothing is cached: every call
// reads the rule store.
type Resolver struct {
	store    RuleStore
	defaults Defaults
	logger   *logging.Logger
}

// NewResolver builds a resolver over store.
func NewResolver(store RuleStore, defaults Defaults, logger *logging.Logger) *Resolver {
	if store == nil {
		panic("schedule: rule store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if defaults.SlotMinutes <= 0 {
		defaults.SlotMinutes = DefaultSlotMinutes
	}
	if defaults.Capacity <= 0 {
		defaults.Capacity = DefaultCapacity
	}
	return &Resolver{store: store, defaults: defaults, logger: logger}
}

// Resolve returns the effective schedule for doctorID on date. Store failures are
// returned as errors; a closed day is a normal result with IsOpen=false and a Reason.
func (r *Resolver) Resolve(ctx context.Context, doctorID, date string) (EffectiveSchedule, error) {
	ctx, span := scheduleTracer.Start(ctx, "schedule.resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.doctor_id", doctorID),
		attribute.String("clinic.date", date),
	)

	weekday, ok := datetime.Weekday(date)
	if !ok {
		return EffectiveSchedule{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	weekly, err := r.store.WeeklyRule(ctx, doctorID, weekday)
	if err != nil {
		span.RecordError(err)
		return EffectiveSchedule{}, fmt.Errorf("schedule: load weekly rule: %w", err)
	}
	overrides, err := r.store.DateOverrides(ctx, doctorID)
	if err != nil {
		span.RecordError(err)
		return EffectiveSchedule{}, fmt.Errorf("schedule: load overrides: %w", err)
	}

	eff := Combine(doctorID, date, weekly, LatestOverride(overrides, date), r.defaults)
	span.SetAttributes(attribute.Bool("clinic.schedule_open", eff.IsOpen))
	if !eff.IsOpen {
		r.logger.Debug("schedule closed", "doctor_id", doctorID, "date", date, "reason", eff.Reason)
	}
	return eff, nil
}

// Combine applies the decision table to one weekly rule (nil when absent) and the
// winning override (nil when none).
func Combine(doctorID, date string, weekly *WeeklyRule, override *DateOverride, defaults Defaults) EffectiveSchedule {
	eff := EffectiveSchedule{
		DoctorID:    doctorID,
		Date:        date,
		SlotMinutes: defaults.SlotMinutes,
		Capacity:    defaults.Capacity,
	}
	if weekly != nil {
		if weekly.SlotMinutes > 0 {
			eff.SlotMinutes = weekly.SlotMinutes
		}
		if weekly.Capacity >= 0 {
			eff.Capacity = weekly.Capacity
		}
	}

	var overrideType OverrideType
	if override != nil {
		overrideType = override.Type
	}

	if overrideType == OverrideClosed {
		eff.Reason = ReasonClosed
		return eff
	}
	weeklyEnabled := weekly != nil && weekly.Enabled
	if !weeklyEnabled && overrideType != OverrideOpen && overrideType != OverrideModify {
		eff.Reason = ReasonWeeklyClosed
		return eff
	}

	if weekly != nil {
		eff.Start = datetime.NormalizeTime(weekly.StartTime)
		eff.End = datetime.NormalizeTime(weekly.EndTime)
	}
	if override != nil {
		if v, ok := stringValue(override.StartTime); ok {
			eff.Start = v
		}
		if v, ok := stringValue(override.EndTime); ok {
			eff.End = v
		}
		if v, ok := intValue(override.SlotMinutes); ok {
			eff.SlotMinutes = v
		}
		if v, ok := capacityValue(override.Capacity); ok {
			eff.Capacity = v
		}
	}

	if eff.Start == "" || eff.End == "" {
		eff.Start, eff.End = "", ""
		eff.Reason = ReasonMissingHours
		return eff
	}
	start, okStart := clockMinutes(eff.Start)
	end, okEnd := clockMinutes(eff.End)
	if !okStart || !okEnd || end <= start {
		eff.Reason = ReasonMissingHours
		return eff
	}

	eff.IsOpen = true
	return eff
}
