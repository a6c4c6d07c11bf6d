package email

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Usage holds a provider's free-tier consumption. Counts whose stored
// period no longer matches the current UTC day/month read as zero; the
// reset is lazy and happens on the next increment.
type Usage struct {
	DailyCount   int
	MonthlyCount int
}

// Caps configures a provider's free-tier limits.
type Caps struct {
	DailyRequests  int
	MonthlyCredits int
}

// UsageStore tracks per-provider daily/monthly send counts.
type UsageStore interface {
	Get(ctx context.Context, provider string) (Usage, error)
	Increment(ctx context.Context, provider string) error
}

// PostgresUsageStore persists usage counters in a single row per
// provider, with period keys for lazy UTC day/month resets.
type PostgresUsageStore struct {
	db *sqlx.DB
}

func NewPostgresUsageStore(db *sqlx.DB) *PostgresUsageStore {
	return &PostgresUsageStore{db: db}
}

type usageRow struct {
	DailyCount   int    `db:"daily_count"`
	DailyDate    string `db:"daily_date"`
	MonthlyCount int    `db:"monthly_count"`
	MonthlyDate  string `db:"monthly_date"`
}

func currentPeriods(now time.Time) (day, month string) {
	utc := now.UTC()
	return utc.Format("2006-01-02"), utc.Format("2006-01")
}

func (s *PostgresUsageStore) Get(ctx context.Context, provider string) (Usage, error) {
	var row usageRow
	err := s.db.GetContext(ctx, &row, `
		SELECT daily_count, daily_date, monthly_count, monthly_date
		FROM email_provider_usage
		WHERE provider = $1
	`, provider)
	if errors.Is(err, sql.ErrNoRows) {
		return Usage{}, nil
	}
	if err != nil {
		return Usage{}, fmt.Errorf("get email usage: %w", err)
	}

	day, month := currentPeriods(time.Now())

	usage := Usage{}
	if row.DailyDate == day {
		usage.DailyCount = row.DailyCount
	}
	if row.MonthlyDate == month {
		usage.MonthlyCount = row.MonthlyCount
	}
	return usage, nil
}

// Increment bumps both counters by one request/credit, resetting any
// counter whose stored period has rolled over. The upsert is a single
// statement so concurrent sends cannot lose updates.
func (s *PostgresUsageStore) Increment(ctx context.Context, provider string) error {
	day, month := currentPeriods(time.Now())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_provider_usage (provider, daily_count, daily_date, monthly_count, monthly_date, updated_at)
		VALUES ($1, 1, $2, 1, $3, now())
		ON CONFLICT (provider) DO UPDATE SET
			daily_count = CASE
				WHEN email_provider_usage.daily_date = $2 THEN email_provider_usage.daily_count + 1
				ELSE 1
			END,
			daily_date = $2,
			monthly_count = CASE
				WHEN email_provider_usage.monthly_date = $3 THEN email_provider_usage.monthly_count + 1
				ELSE 1
			END,
			monthly_date = $3,
			updated_at = now()
	`, provider, day, month)
	if err != nil {
		return fmt.Errorf("increment email usage: %w", err)
	}
	return nil
}
