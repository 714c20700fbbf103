package schedule

import "github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/datetime"

// LatestOverride reduces the override log for a date with last-write-wins: rows are
// scanned newest first and the first one matching the date is returned. Duplicate rows
// are left in the log untouched.
func LatestOverride(rows []DateOverride, date string) *DateOverride {
	for i := len(rows) - 1; i >= 0; i-- {
		if datetime.NormalizeDate(rows[i].Date) == date {
			row := rows[i]
			return &row
		}
	}
	return nil
}

func stringValue(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	v := datetime.NormalizeTime(*p)
	if v == "" {
		return "", false
	}
	return v, true
}

func intValue(p *int) (int, bool) {
	if p == nil || *p <= 0 {
		return 0, false
	}
	return *p, true
}

// capacityValue accepts an explicit zero: an override may stop bookings without closing the day.
func capacityValue(p *int) (int, bool) {
	if p == nil || *p < 0 {
		return 0, false
	}
	return *p, true
}

func clockMinutes(clock string) (int, bool) {
	return datetime.ClockMinutes(clock)
}

func formatClock(minutes int) string {
	return datetime.FormatClock(minutes)
}
