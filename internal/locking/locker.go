// Package locking provides named, waitable exclusive locks with a bounded wait.
package locking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrLockTimeout is returned when a lock could not be acquired before the timeout.
var ErrLockTimeout = errors.New("locking: timed out waiting for lock")

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func()

// Locker acquires exclusive locks by key.
type Locker interface {
	Acquire(ctx context.Context, key string, timeout time.Duration) (Unlock, error)
}

// WithLock runs fn while holding key. The lock is released however fn exits,
// including a panic, which is re-raised after release.
func WithLock(ctx context.Context, locker Locker, key string, timeout time.Duration, fn func(ctx context.Context) error) error {
	unlock, err := locker.Acquire(ctx, key, timeout)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// WithLocks runs fn while holding every key. Keys are deduplicated and taken in
// sorted order so two callers sharing keys cannot deadlock. timeout bounds the
// whole acquisition, not each key.
func WithLocks(ctx context.Context, locker Locker, keys []string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ordered := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		ordered = append(ordered, key)
	}
	sort.Strings(ordered)

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	unlocks := make([]Unlock, 0, len(ordered))
	defer func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}()
	for _, key := range ordered {
		wait := timeout
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				return ErrLockTimeout
			}
		}
		unlock, err := locker.Acquire(ctx, key, wait)
		if err != nil {
			return err
		}
		unlocks = append(unlocks, unlock)
	}
	return fn(ctx)
}

// Scope decides how finely booking creates are partitioned.
type Scope string

const (
	ScopeGlobal     Scope = "global"
	ScopeDoctor     Scope = "doctor"
	ScopeDoctorDate Scope = "doctor_date"
)

// ParseScope maps a config value to a Scope, defaulting to global.
func ParseScope(raw string) Scope {
	switch Scope(strings.ToLower(strings.TrimSpace(raw))) {
	case ScopeDoctor:
		return ScopeDoctor
	case ScopeDoctorDate:
		return ScopeDoctorDate
	default:
		return ScopeGlobal
	}
}

// Key returns the lock key guarding a create for doctorID on date.
func (s Scope) Key(doctorID, date string) string {
	switch s {
	case ScopeDoctor:
		return fmt.Sprintf("booking:doctor:%s", doctorID)
	case ScopeDoctorDate:
		return fmt.Sprintf("booking:doctor:%s:%s", doctorID, date)
	default:
		return "booking:global"
	}
}

// CreateKeys returns every lock a create must hold. The global scope is one key.
// Finer scopes add the patient and the (date, time) slot, since exclusivity and
// slot capacity are checked across all doctors.
func (s Scope) CreateKeys(doctorID, date, clock, patientID string) []string {
	if s != ScopeDoctor && s != ScopeDoctorDate {
		return []string{s.Key(doctorID, date)}
	}
	return []string{s.Key(doctorID, date), PatientKey(patientID), SlotKey(date, clock)}
}

// PatientKey serializes creates for one patient.
func PatientKey(patientID string) string {
	return "booking:patient:" + patientID
}

// SlotKey serializes creates for one (date, time) slot across doctors.
func SlotKey(date, clock string) string {
	return fmt.Sprintf("booking:slot:%s:%s", date, clock)
}

// ReservationKey is the lock key for lifecycle changes to one reservation.
func ReservationKey(reserveID string) string {
	return "reservation:" + reserveID
}
