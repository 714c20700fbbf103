package schedule

import (
	"context"
	"sync"
	"time"
)

// RuleWriter is the admin-side contract. Weekly rules are disabled, never deleted, and
// overrides are only ever appended.
type RuleWriter interface {
	UpsertWeeklyRule(ctx context.Context, rule WeeklyRule) error
	SetWeeklyEnabled(ctx context.Context, doctorID string, weekday time.Weekday, enabled bool) error
	AppendOverride(ctx context.Context, override DateOverride) (DateOverride, error)
}

// Store is both sides of the rule store.
type Store interface {
	RuleStore
	RuleWriter
}

// MemoryRuleStore keeps rules in process. Used by tests and local development.
type MemoryRuleStore struct {
	mu        sync.RWMutex
	weekly    map[weeklyKey]WeeklyRule
	overrides map[string][]DateOverride
	seq       int64
}

type weeklyKey struct {
	doctorID string
	weekday  time.Weekday
}

var _ Store = (*MemoryRuleStore)(nil)

// NewMemoryRuleStore returns an empty store.
func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{
		weekly:    make(map[weeklyKey]WeeklyRule),
		overrides: make(map[string][]DateOverride),
	}
}

func (s *MemoryRuleStore) WeeklyRule(ctx context.Context, doctorID string, weekday time.Weekday) (*WeeklyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.weekly[weeklyKey{doctorID, weekday}]
	if !ok {
		return nil, nil
	}
	return &rule, nil
}

func (s *MemoryRuleStore) DateOverrides(ctx context.Context, doctorID string) ([]DateOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.overrides[doctorID]
	out := make([]DateOverride, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *MemoryRuleStore) UpsertWeeklyRule(ctx context.Context, rule WeeklyRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule.UpdatedAt = time.Now().UTC()
	s.weekly[weeklyKey{rule.DoctorID, rule.Weekday}] = rule
	return nil
}

func (s *MemoryRuleStore) SetWeeklyEnabled(ctx context.Context, doctorID string, weekday time.Weekday, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := weeklyKey{doctorID, weekday}
	rule, ok := s.weekly[key]
	if !ok {
		rule = WeeklyRule{DoctorID: doctorID, Weekday: weekday}
	}
	rule.Enabled = enabled
	rule.UpdatedAt = time.Now().UTC()
	s.weekly[key] = rule
	return nil
}

func (s *MemoryRuleStore) AppendOverride(ctx context.Context, override DateOverride) (DateOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	override.Seq = s.seq
	if override.CreatedAt.IsZero() {
		override.CreatedAt = time.Now().UTC()
	}
	s.overrides[override.DoctorID] = append(s.overrides[override.DoctorID], override)
	return override, nil
}
