package upscale

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/clearpix/clearpix-api/internal/domain/credit"
	"github.com/clearpix/clearpix-api/internal/pkg/inference"
	"github.com/clearpix/clearpix-api/internal/pkg/storage"
)

const thumbnailWidth = 256

// Inferencer is the AI inference vendor call.
type Inferencer interface {
	Upscale(ctx context.Context, req inference.UpscaleRequest) (*inference.UpscaleResult, error)
}

// TierSource resolves a user's plan-tier label for cap lookups.
type TierSource interface {
	GetPlanTier(ctx context.Context, userID uuid.UUID) (string, error)
}

// HourlyCaps maps plan tiers to their hourly billable-operation caps.
type HourlyCaps struct {
	Default int
	PerTier map[string]int
}

func (c HourlyCaps) For(tier string) int {
	if cap, ok := c.PerTier[tier]; ok {
		return cap
	}
	return c.Default
}

// FeatureGates lists the plan tiers allowed to use gated features. A
// nil list leaves the feature open to everyone.
type FeatureGates struct {
	Scale8      []string
	FaceEnhance []string
}

func (g FeatureGates) check(tier string, req *CreateRequest) error {
	if req.Scale == 8 && !tierAllowed(g.Scale8, tier) {
		return &TierForbiddenError{Feature: "8x upscaling", Tier: tier}
	}
	if req.FaceEnhance && !tierAllowed(g.FaceEnhance, tier) {
		return &TierForbiddenError{Feature: "face enhancement", Tier: tier}
	}
	return nil
}

func tierAllowed(tiers []string, tier string) bool {
	if tiers == nil {
		return true
	}
	for _, t := range tiers {
		if t == tier {
			return true
		}
	}
	return false
}

// Service runs the billable upscale flow: batch cap, cost, debit,
// inference, store output, settle.
type Service struct {
	repo      Repository
	credits   credit.Service
	inference Inferencer
	store     storage.Storage
	tiers     TierSource
	limits    CostLimits
	caps      HourlyCaps
	gates     FeatureGates
}

func NewService(repo Repository, credits credit.Service, inf Inferencer, store storage.Storage, tiers TierSource, limits CostLimits, caps HourlyCaps, gates FeatureGates) *Service {
	return &Service{
		repo:      repo,
		credits:   credits,
		inference: inf,
		store:     store,
		tiers:     tiers,
		limits:    limits,
		caps:      caps,
		gates:     gates,
	}
}

// Create performs one upscale. Order matters: the batch cap is checked
// before any credits move, the debit happens before the vendor call,
// and a vendor failure refunds before the error is surfaced.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req *CreateRequest) (*Result, error) {
	tier, err := s.tiers.GetPlanTier(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to resolve plan tier, using default cap")
		tier = ""
	}

	if err := s.gates.check(tier, req); err != nil {
		return nil, err
	}

	if _, _, err := s.repo.IncrementHourlyUsage(ctx, userID, s.caps.For(tier)); err != nil {
		return nil, err
	}

	mode := Mode(req.Mode)
	cost := ComputeCost(mode, req.Scale, req.FaceEnhance, req.Denoise, s.limits)
	jobID := uuid.New()
	description := fmt.Sprintf("upscale %s %dx", mode, req.Scale)

	var outputKey, thumbKey string

	balance, opErr := s.credits.ChargeAndRun(ctx, userID, cost, jobID, description, func(ctx context.Context) error {
		result, err := s.inference.Upscale(ctx, inference.UpscaleRequest{
			SourceURL:   req.SourceURL,
			Mode:        req.Mode,
			Scale:       req.Scale,
			FaceEnhance: req.FaceEnhance,
			Denoise:     req.Denoise,
		})
		if err != nil {
			return err
		}

		outputKey = fmt.Sprintf("outputs/%s/%s%s", userID, jobID, extensionFor(result.ContentType))
		if err := s.store.Save(ctx, outputKey, bytes.NewReader(result.Image), result.ContentType); err != nil {
			return fmt.Errorf("save output: %w", err)
		}

		// Thumbnail failures never fail the job.
		if key, err := s.saveThumbnail(ctx, userID, jobID, result.Image); err != nil {
			log.Warn().Err(err).Str("job_id", jobID.String()).Msg("Failed to generate thumbnail")
		} else {
			thumbKey = key
		}

		return nil
	})

	s.recordAudit(ctx, userID, jobID, mode, req, cost, outputKey, opErr)

	if opErr != nil {
		return nil, opErr
	}

	res := &Result{
		JobID:     jobID,
		OutputURL: s.store.URL(outputKey),
		Cost:      cost,
		Balance:   balance.Total(),
	}
	if thumbKey != "" {
		res.ThumbnailURL = s.store.URL(thumbKey)
	}

	return res, nil
}

func (s *Service) saveThumbnail(ctx context.Context, userID, jobID uuid.UUID, img []byte) (string, error) {
	src, err := imaging.Decode(bytes.NewReader(img))
	if err != nil {
		return "", fmt.Errorf("decode output: %w", err)
	}

	thumb := imaging.Resize(src, thumbnailWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}

	key := fmt.Sprintf("thumbs/%s/%s.jpg", userID, jobID)
	if err := s.store.Save(ctx, key, &buf, "image/jpeg"); err != nil {
		return "", fmt.Errorf("save thumbnail: %w", err)
	}

	return key, nil
}

func (s *Service) recordAudit(ctx context.Context, userID, jobID uuid.UUID, mode Mode, req *CreateRequest, cost int, outputKey string, opErr error) {
	job := &Job{
		ID:          jobID,
		UserID:      userID,
		Mode:        mode,
		Scale:       req.Scale,
		FaceEnhance: req.FaceEnhance,
		Denoise:     req.Denoise,
		Cost:        cost,
		Status:      StatusSucceeded,
	}
	if outputKey != "" {
		job.OutputKey = &outputKey
	}
	if opErr != nil {
		job.Status = StatusFailed
		detail := opErr.Error()
		job.ErrorDetail = &detail
	}

	if err := s.repo.RecordJob(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to write job audit row")
	}
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
