package upscale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

type Repository interface {
	RecordJob(ctx context.Context, job *Job) error
	IncrementHourlyUsage(ctx context.Context, userID uuid.UUID, limit int) (int, time.Time, error)
}

// JobRepository stores the audit log and enforces the hourly batch cap.
type JobRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// RecordJob writes the audit row for an attempt, success or failure.
func (r *JobRepository) RecordJob(ctx context.Context, job *Job) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		INSERT INTO upscale_jobs (
			id, user_id, mode, scale, face_enhance, denoise, cost, status, error_detail, output_key
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, job.ID, job.UserID, job.Mode, job.Scale, job.FaceEnhance, job.Denoise, job.Cost, job.Status, job.ErrorDetail, job.OutputKey)
	if err != nil {
		return fmt.Errorf("%w: record job", ErrInternal)
	}

	return nil
}

// IncrementHourlyUsage bumps the user's counter for the current UTC
// hour window iff it is still under limit, in a single atomic upsert.
// Two concurrent requests can't both slip past the cap: the WHERE on
// the conflict update makes the check and the increment one statement.
// Returns BatchLimitError when the cap is already reached.
func (r *JobRepository) IncrementHourlyUsage(ctx context.Context, userID uuid.UUID, limit int) (int, time.Time, error) {
	// The fresh-window insert below always admits one row, so a cap of
	// zero has to be rejected before it.
	if limit <= 0 {
		window := time.Now().UTC().Truncate(time.Hour)
		return 0, time.Time{}, &BatchLimitError{
			Current: 0,
			Limit:   limit,
			ResetAt: window.Add(time.Hour),
		}
	}

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var count int
	var windowStart time.Time
	err := r.db.QueryRowContext(ctx2, `
		INSERT INTO upscale_usage (user_id, window_start, count)
		VALUES ($1, date_trunc('hour', now() AT TIME ZONE 'utc'), 1)
		ON CONFLICT (user_id, window_start)
		DO UPDATE SET count = upscale_usage.count + 1
		WHERE upscale_usage.count < $2
		RETURNING count, window_start
	`, userID, limit).Scan(&count, &windowStart)
	if err == nil {
		return count, windowStart.Add(time.Hour), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, fmt.Errorf("%w: increment hourly usage", ErrInternal)
	}

	// Cap reached; read the window back for the error payload.
	err = r.db.QueryRowContext(ctx2, `
		SELECT count, window_start
		FROM upscale_usage
		WHERE user_id = $1 AND window_start = date_trunc('hour', now() AT TIME ZONE 'utc')
	`, userID).Scan(&count, &windowStart)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: read hourly usage", ErrInternal)
	}

	return 0, time.Time{}, &BatchLimitError{
		Current: count,
		Limit:   limit,
		ResetAt: windowStart.Add(time.Hour),
	}
}
