package schedule

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

// PostgresRuleStore reads and writes doctor_weekly_rules and doctor_date_overrides.
type PostgresRuleStore struct {
	db DB
}

var _ Store = (*PostgresRuleStore)(nil)

// NewPostgresRuleStore creates a rule store over a pgx pool (or mock).
func NewPostgresRuleStore(db DB) *PostgresRuleStore {
	if db == nil {
		panic("schedule: db required")
	}
	return &PostgresRuleStore{db: db}
}

// WeeklyRule returns nil without error when no row exists for the weekday.
func (s *PostgresRuleStore) WeeklyRule(ctx context.Context, doctorID string, weekday time.Weekday) (*WeeklyRule, error) {
	var rule WeeklyRule
	var wd int16
	err := s.db.QueryRow(ctx, `
		SELECT doctor_id, weekday, enabled, start_time, end_time, slot_minutes, capacity, updated_at
		FROM doctor_weekly_rules
		WHERE doctor_id = $1 AND weekday = $2`, doctorID, int16(weekday)).Scan(
		&rule.DoctorID, &wd, &rule.Enabled, &rule.StartTime, &rule.EndTime,
		&rule.SlotMinutes, &rule.Capacity, &rule.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("weekly rule", err)
	}
	rule.Weekday = time.Weekday(wd)
	return &rule, nil
}

// DateOverrides returns every override row for the doctor in append order.
func (s *PostgresRuleStore) DateOverrides(ctx context.Context, doctorID string) ([]DateOverride, error) {
	rows, err := s.db.Query(ctx, `
		SELECT seq, doctor_id, to_char(override_date, 'YYYY-MM-DD'), override_type,
		       start_time, end_time, slot_minutes, capacity, created_at
		FROM doctor_date_overrides
		WHERE doctor_id = $1
		ORDER BY seq ASC`, doctorID)
	if err != nil {
		return nil, classify("date overrides", err)
	}
	defer rows.Close()

	var out []DateOverride
	for rows.Next() {
		var o DateOverride
		var overrideType string
		if err := rows.Scan(&o.Seq, &o.DoctorID, &o.Date, &overrideType,
			&o.StartTime, &o.EndTime, &o.SlotMinutes, &o.Capacity, &o.CreatedAt); err != nil {
			return nil, classify("scan override", err)
		}
		o.Type = ParseOverrideType(overrideType)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("date overrides", err)
	}
	return out, nil
}

func (s *PostgresRuleStore) UpsertWeeklyRule(ctx context.Context, rule WeeklyRule) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO doctor_weekly_rules (doctor_id, weekday, enabled, start_time, end_time, slot_minutes, capacity, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (doctor_id, weekday) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			slot_minutes = EXCLUDED.slot_minutes,
			capacity = EXCLUDED.capacity,
			updated_at = now()`,
		rule.DoctorID, int16(rule.Weekday), rule.Enabled, rule.StartTime, rule.EndTime,
		rule.SlotMinutes, rule.Capacity,
	)
	if err != nil {
		return classify("upsert weekly rule", err)
	}
	return nil
}

func (s *PostgresRuleStore) SetWeeklyEnabled(ctx context.Context, doctorID string, weekday time.Weekday, enabled bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE doctor_weekly_rules SET enabled = $3, updated_at = now()
		WHERE doctor_id = $1 AND weekday = $2`, doctorID, int16(weekday), enabled)
	if err != nil {
		return classify("set weekly enabled", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("schedule: set weekly enabled: no rule for doctor %s weekday %d", doctorID, weekday)
	}
	return nil
}

func (s *PostgresRuleStore) AppendOverride(ctx context.Context, o DateOverride) (DateOverride, error) {
	err := s.db.QueryRow(ctx, `
		INSERT INTO doctor_date_overrides (doctor_id, override_date, override_type, start_time, end_time, slot_minutes, capacity)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7)
		RETURNING seq, created_at`,
		o.DoctorID, o.Date, string(o.Type), o.StartTime, o.EndTime, o.SlotMinutes, o.Capacity,
	).Scan(&o.Seq, &o.CreatedAt)
	if err != nil {
		return DateOverride{}, classify("append override", err)
	}
	return o, nil
}

// classify wraps schema errors (undefined table or column) as ErrConfiguration.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01", "42703":
			return fmt.Errorf("%w: %s: %s", ErrConfiguration, op, pgErr.Message)
		}
	}
	return fmt.Errorf("schedule: %s: %w", op, err)
}
