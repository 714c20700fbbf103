// Package schedule resolves a doctor's effective opening hours for a date by layering
// the weekly recurring rule with any date-specific override.
package schedule

import (
	"errors"
	"strings"
	"time"
)

// ErrConfiguration marks missing or mismatched rule tables. It is fatal and never retried.
var ErrConfiguration = errors.New("schedule: rule store misconfigured")

// Fallbacks used when a doctor has no weekly row at all.
const (
	DefaultSlotMinutes = 15
	DefaultCapacity    = 2
)

// OverrideType describes how a DateOverride relates to the weekly rule.
type OverrideType string

const (
	OverrideOpen   OverrideType = "open"
	OverrideModify OverrideType = "modify"
	OverrideClosed OverrideType = "closed"
)

// ParseOverrideType normalizes the stored type string. Unknown values are kept as-is so
// they neither open a disabled weekday nor close an enabled one.
func ParseOverrideType(raw string) OverrideType {
	return OverrideType(strings.ToLower(strings.TrimSpace(raw)))
}

// Reason codes reported for a closed day.
const (
	ReasonClosed       = "closed"
	ReasonWeeklyClosed = "weekly_closed"
	ReasonMissingHours = "missing_hours"
)

// WeeklyRule is the recurring template for one doctor and weekday (Sunday = 0).
type WeeklyRule struct {
	DoctorID    string       `json:"doctor_id"`
	Weekday     time.Weekday `json:"weekday"`
	Enabled     bool         `json:"enabled"`
	StartTime   string       `json:"start_time"`
	EndTime     string       `json:"end_time"`
	SlotMinutes int          `json:"slot_minutes"`
	Capacity    int          `json:"capacity"`
	UpdatedAt   time.Time    `json:"updated_at,omitempty"`
}

// DateOverride is a per-date exception. Nil or empty fields fall back to the weekly rule.
// Seq preserves append order; rows are never deduplicated.
type DateOverride struct {
	Seq         int64        `json:"seq"`
	DoctorID    string       `json:"doctor_id"`
	Date        string       `json:"date"`
	Type        OverrideType `json:"type"`
	StartTime   *string      `json:"start_time,omitempty"`
	EndTime     *string      `json:"end_time,omitempty"`
	SlotMinutes *int         `json:"slot_minutes,omitempty"`
	Capacity    *int         `json:"capacity,omitempty"`
	CreatedAt   time.Time    `json:"created_at,omitempty"`
}

// EffectiveSchedule is the derived, never-persisted schedule for one doctor and date.
type EffectiveSchedule struct {
	DoctorID    string `json:"doctor_id"`
	Date        string `json:"date"`
	IsOpen      bool   `json:"is_open"`
	Start       string `json:"start,omitempty"`
	End         string `json:"end,omitempty"`
	SlotMinutes int    `json:"slot_minutes"`
	Capacity    int    `json:"capacity"`
	Reason      string `json:"reason,omitempty"`
}

// Slots lists every bookable start time in [Start, End) at SlotMinutes granularity.
func (e EffectiveSchedule) Slots() []string {
	if !e.IsOpen || e.SlotMinutes <= 0 {
		return nil
	}
	start, ok := clockMinutes(e.Start)
	if !ok {
		return nil
	}
	end, ok := clockMinutes(e.End)
	if !ok {
		return nil
	}
	var out []string
	for m := start; m < end; m += e.SlotMinutes {
		out = append(out, formatClock(m))
	}
	return out
}
