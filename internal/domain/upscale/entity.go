package upscale

import (
	"time"

	"github.com/google/uuid"
)

// Mode selects the upscaling model family.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModePhoto    Mode = "photo"
	ModeArt      Mode = "art"
)

// JobStatus is the terminal outcome recorded in the audit log.
type JobStatus string

const (
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Job is the audit record of a billable upscale attempt. Jobs are
// ephemeral at runtime; only this log row survives the request.
type Job struct {
	ID          uuid.UUID `db:"id"`
	UserID      uuid.UUID `db:"user_id"`
	Mode        Mode      `db:"mode"`
	Scale       int       `db:"scale"`
	FaceEnhance bool      `db:"face_enhance"`
	Denoise     bool      `db:"denoise"`
	Cost        int       `db:"cost"`
	Status      JobStatus `db:"status"`
	ErrorDetail *string   `db:"error_detail"`
	OutputKey   *string   `db:"output_key"`
	CreatedAt   time.Time `db:"created_at"`
}

// Result is what a successful upscale returns to the handler.
type Result struct {
	JobID        uuid.UUID
	OutputURL    string
	ThumbnailURL string
	Cost         int
	Balance      int
}
