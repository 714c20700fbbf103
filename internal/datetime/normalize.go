// Package datetime turns the date and time values found in clinic records into the
// canonical "YYYY-MM-DD" and "HH:MM" strings the booking engine compares on.
package datetime

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the canonical date representation.
	DateLayout = "2006-01-02"
	// ClockLayout is the canonical time-of-day representation.
	ClockLayout = "15:04"
)

var (
	isoDatePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	looseYMD      = regexp.MustCompile(`^(\d{4})\s*[/.\-年]\s*(\d{1,2})\s*[/.\-月]\s*(\d{1,2})\s*日?`)
	parenSuffix   = regexp.MustCompile(`\s*\(.*\)\s*$`)

	clockHM      = regexp.MustCompile(`^(\d{1,2})\s*[:：時]\s*(\d{1,2})\s*分?(?:\s*[:：]\s*\d{1,2})?$`)
	clockHourly  = regexp.MustCompile(`^(\d{1,2})\s*時$`)
	clockInText  = regexp.MustCompile(`(?:^|[^\d])(\d{1,2}):(\d{2})(?::\d{2})?`)
	meridiemTail = regexp.MustCompile(`(?i)\s*([ap])\.?m\.?$`)
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.ANSIC,
	time.UnixDate,
	"Mon Jan 02 2006 15:04:05 GMT-0700",
	"Mon Jan 2 2006 15:04:05 GMT-0700",
	"Mon Jan 02 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Mon, Jan 2, 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"1/2/2006",
	"01/02/2006",
}

// NormalizeDate returns value as "YYYY-MM-DD". Unparseable input is returned trimmed
// and unchanged so that validation further down rejects it.
func NormalizeDate(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case time.Time:
		if v.IsZero() {
			return ""
		}
		return v.Format(DateLayout)
	case *time.Time:
		if v == nil || v.IsZero() {
			return ""
		}
		return v.Format(DateLayout)
	case string:
		return normalizeDateString(v)
	case fmt.Stringer:
		return normalizeDateString(v.String())
	default:
		return normalizeDateString(fmt.Sprint(v))
	}
}

func normalizeDateString(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if isoDatePrefix.MatchString(s) {
		return s[:10]
	}
	if m := looseYMD.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if validDate(year, month, day) {
			return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
		}
		return s
	}
	candidate := parenSuffix.ReplaceAllString(s, "")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, candidate); err == nil {
			return t.Format(DateLayout)
		}
	}
	return s
}

func validDate(year, month, day int) bool {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return t.Day() == day
}

// NormalizeTime returns value as zero-padded "HH:MM". Unparseable input is returned
// trimmed and unchanged.
func NormalizeTime(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case time.Time:
		if v.IsZero() {
			return ""
		}
		return v.Format(ClockLayout)
	case *time.Time:
		if v == nil || v.IsZero() {
			return ""
		}
		return v.Format(ClockLayout)
	case string:
		return normalizeTimeString(v)
	case fmt.Stringer:
		return normalizeTimeString(v.String())
	default:
		return normalizeTimeString(fmt.Sprint(v))
	}
}

func normalizeTimeString(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	body, offset := splitMeridiem(s)

	if m := clockHM.FindStringSubmatch(body); m != nil {
		if out, ok := formatClock(m[1], m[2], offset); ok {
			return out
		}
		return s
	}
	if m := clockHourly.FindStringSubmatch(body); m != nil {
		if out, ok := formatClock(m[1], "0", offset); ok {
			return out
		}
		return s
	}
	// Full timestamps such as "2024-05-06T09:30:00Z" or spreadsheet time cells
	// rendered as "Sat Dec 30 1899 09:30:00 GMT+0900".
	if m := clockInText.FindStringSubmatch(s); m != nil {
		if out, ok := formatClock(m[1], m[2], 0); ok {
			return out
		}
	}
	return s
}

// splitMeridiem strips an AM/PM marker and reports the hour offset it implies:
// -1 for AM (12 -> 0), +12 for PM, 0 when there is no marker.
func splitMeridiem(s string) (string, int) {
	switch {
	case strings.HasPrefix(s, "午前"):
		return strings.TrimSpace(strings.TrimPrefix(s, "午前")), -1
	case strings.HasPrefix(s, "午後"):
		return strings.TrimSpace(strings.TrimPrefix(s, "午後")), 12
	}
	if m := meridiemTail.FindStringSubmatchIndex(s); m != nil {
		marker := strings.ToLower(s[m[2]:m[3]])
		body := strings.TrimSpace(s[:m[0]])
		if marker == "a" {
			return body, -1
		}
		return body, 12
	}
	return s, 0
}

func formatClock(hourStr, minuteStr string, meridiem int) (string, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil {
		return "", false
	}
	minute, err := strconv.Atoi(minuteStr)
	if err != nil {
		return "", false
	}
	switch meridiem {
	case -1:
		if hour < 1 || hour > 12 {
			return "", false
		}
		if hour == 12 {
			hour = 0
		}
	case 12:
		if hour < 1 || hour > 12 {
			return "", false
		}
		if hour != 12 {
			hour += 12
		}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

// ClockMinutes converts a canonical "HH:MM" value into minutes past midnight.
func ClockMinutes(clock string) (int, bool) {
	t, err := time.Parse(ClockLayout, strings.TrimSpace(clock))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// FormatClock renders minutes past midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ParseDate parses a canonical "YYYY-MM-DD" date.
func ParseDate(date string) (time.Time, bool) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Weekday returns the day of week (Sunday = 0) for a canonical date.
func Weekday(date string) (time.Weekday, bool) {
	t, ok := ParseDate(date)
	if !ok {
		return 0, false
	}
	return t.Weekday(), true
}

// DatesBetween lists every canonical date from start to end inclusive.
// It returns nil when either bound is invalid or end precedes start.
func DatesBetween(start, end string) []string {
	from, ok := ParseDate(start)
	if !ok {
		return nil
	}
	to, ok := ParseDate(end)
	if !ok || to.Before(from) {
		return nil
	}
	var out []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(DateLayout))
	}
	return out
}
