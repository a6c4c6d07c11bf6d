package upscale

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clearpix/clearpix-api/internal/domain/credit"
	"github.com/clearpix/clearpix-api/internal/pkg/inference"
)

type stubJobRepo struct {
	jobs      []*Job
	usageErr  error
	usageHits int
}

func (s *stubJobRepo) RecordJob(ctx context.Context, job *Job) error {
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *stubJobRepo) IncrementHourlyUsage(ctx context.Context, userID uuid.UUID, limit int) (int, time.Time, error) {
	if s.usageErr != nil {
		return 0, time.Time{}, s.usageErr
	}
	s.usageHits++
	return s.usageHits, time.Now().Add(time.Hour), nil
}

type stubCredits struct {
	balance     int
	deductCalls int
	refunds     int
}

func (s *stubCredits) ChargeAndRun(ctx context.Context, userID uuid.UUID, cost int, jobID uuid.UUID, description string, op credit.Operation) (credit.Balance, error) {
	s.deductCalls++
	if s.balance < cost {
		return credit.Balance{}, &credit.InsufficientCreditsError{Required: cost, Balance: s.balance}
	}
	s.balance -= cost
	if err := op(ctx); err != nil {
		s.balance += cost
		s.refunds++
		return credit.Balance{}, err
	}
	return credit.Balance{SubscriptionCredits: s.balance}, nil
}

func (s *stubCredits) Refund(ctx context.Context, userID uuid.UUID, jobID uuid.UUID, description string) (credit.Balance, error) {
	return credit.Balance{SubscriptionCredits: s.balance}, nil
}

func (s *stubCredits) GrantCycleCredits(ctx context.Context, userID uuid.UUID, amount, rolloverCap int, description string) (credit.Balance, error) {
	return credit.Balance{}, nil
}

func (s *stubCredits) AddPurchased(ctx context.Context, userID uuid.UUID, amount int, description string) (credit.Balance, error) {
	return credit.Balance{}, nil
}

func (s *stubCredits) GetBalance(ctx context.Context, userID uuid.UUID) (credit.Balance, error) {
	return credit.Balance{SubscriptionCredits: s.balance}, nil
}

func (s *stubCredits) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]credit.Transaction, error) {
	return nil, nil
}

type stubInferencer struct {
	calls int
	err   error
}

// tinyPNG encodes a small image so thumbnailing has real bytes to decode.
func tinyPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func (s *stubInferencer) Upscale(ctx context.Context, req inference.UpscaleRequest) (*inference.UpscaleResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &inference.UpscaleResult{Image: tinyPNG(), ContentType: "image/png"}, nil
}

type stubStorage struct {
	saved []string
}

func (s *stubStorage) Save(ctx context.Context, key string, reader io.Reader, contentType string) error {
	s.saved = append(s.saved, key)
	return nil
}

func (s *stubStorage) Delete(ctx context.Context, key string) error { return nil }

func (s *stubStorage) URL(key string) string { return "https://cdn.test/" + key }

type stubTiers struct {
	tier string
	err  error
}

func (s *stubTiers) GetPlanTier(ctx context.Context, userID uuid.UUID) (string, error) {
	return s.tier, s.err
}

func newTestService(repo *stubJobRepo, credits *stubCredits, inf *stubInferencer, store *stubStorage) *Service {
	return NewService(repo, credits, inf, store, &stubTiers{tier: "pro"},
		CostLimits{Min: 1, Max: 20},
		HourlyCaps{Default: 10, PerTier: map[string]int{"pro": 200}},
		FeatureGates{Scale8: []string{"pro", "business"}, FaceEnhance: []string{"hobby", "pro", "business"}},
	)
}

func TestCreate_Success(t *testing.T) {
	repo := &stubJobRepo{}
	credits := &stubCredits{balance: 10}
	inf := &stubInferencer{}
	store := &stubStorage{}
	svc := newTestService(repo, credits, inf, store)

	req := &CreateRequest{SourceURL: "https://example.com/in.png", Mode: "photo", Scale: 4}
	result, err := svc.Create(context.Background(), uuid.New(), req)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if result.Cost != 4 {
		t.Errorf("cost = %d, want 4", result.Cost)
	}
	if result.Balance != 6 {
		t.Errorf("balance = %d, want 6", result.Balance)
	}
	if result.OutputURL == "" {
		t.Error("expected output URL")
	}
	if result.ThumbnailURL == "" {
		t.Error("expected thumbnail URL")
	}
	if len(store.saved) != 2 {
		t.Errorf("stored %d objects, want output + thumbnail", len(store.saved))
	}
	if len(repo.jobs) != 1 || repo.jobs[0].Status != StatusSucceeded {
		t.Errorf("audit jobs = %+v, want one succeeded row", repo.jobs)
	}
}

func TestCreate_InsufficientCreditsSkipsVendorCall(t *testing.T) {
	repo := &stubJobRepo{}
	credits := &stubCredits{balance: 2}
	inf := &stubInferencer{}
	svc := newTestService(repo, credits, inf, &stubStorage{})

	req := &CreateRequest{SourceURL: "https://example.com/in.png", Mode: "photo", Scale: 4}
	_, err := svc.Create(context.Background(), uuid.New(), req)

	var insufficient *credit.InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Create() error = %v, want InsufficientCreditsError", err)
	}
	if inf.calls != 0 {
		t.Errorf("vendor called %d times, want 0", inf.calls)
	}
	if credits.balance != 2 {
		t.Errorf("balance = %d, want unchanged 2", credits.balance)
	}
}

func TestCreate_VendorFailureRefunds(t *testing.T) {
	repo := &stubJobRepo{}
	credits := &stubCredits{balance: 10}
	inf := &stubInferencer{err: &inference.VendorError{Kind: inference.KindUnavailable, Message: "down"}}
	svc := newTestService(repo, credits, inf, &stubStorage{})

	req := &CreateRequest{SourceURL: "https://example.com/in.png", Mode: "standard", Scale: 2}
	_, err := svc.Create(context.Background(), uuid.New(), req)

	var vendor *inference.VendorError
	if !errors.As(err, &vendor) {
		t.Fatalf("Create() error = %v, want VendorError", err)
	}
	if credits.refunds != 1 {
		t.Errorf("refunds = %d, want 1", credits.refunds)
	}
	if credits.balance != 10 {
		t.Errorf("balance = %d, want restored 10", credits.balance)
	}
	if len(repo.jobs) != 1 || repo.jobs[0].Status != StatusFailed {
		t.Errorf("audit jobs = %+v, want one failed row", repo.jobs)
	}
}

func TestCreate_TierGateBlocksBeforeUsageCount(t *testing.T) {
	repo := &stubJobRepo{}
	credits := &stubCredits{balance: 100}
	inf := &stubInferencer{}
	svc := NewService(repo, credits, inf, &stubStorage{}, &stubTiers{tier: "hobby"},
		CostLimits{Min: 1, Max: 20},
		HourlyCaps{Default: 10},
		FeatureGates{Scale8: []string{"pro", "business"}},
	)

	req := &CreateRequest{SourceURL: "https://example.com/in.png", Mode: "photo", Scale: 8}
	_, err := svc.Create(context.Background(), uuid.New(), req)

	var forbidden *TierForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("Create() error = %v, want TierForbiddenError", err)
	}
	if forbidden.Tier != "hobby" {
		t.Errorf("tier = %q, want hobby", forbidden.Tier)
	}
	if repo.usageHits != 0 {
		t.Errorf("hourly usage counted %d times, want 0", repo.usageHits)
	}
	if credits.deductCalls != 0 {
		t.Errorf("deduct called %d times, want 0", credits.deductCalls)
	}
}

func TestCreate_BatchLimitBlocksBeforeDebit(t *testing.T) {
	repo := &stubJobRepo{usageErr: &BatchLimitError{Current: 200, Limit: 200, ResetAt: time.Now().Add(30 * time.Minute)}}
	credits := &stubCredits{balance: 10}
	inf := &stubInferencer{}
	svc := newTestService(repo, credits, inf, &stubStorage{})

	req := &CreateRequest{SourceURL: "https://example.com/in.png", Mode: "standard", Scale: 2}
	_, err := svc.Create(context.Background(), uuid.New(), req)

	var batch *BatchLimitError
	if !errors.As(err, &batch) {
		t.Fatalf("Create() error = %v, want BatchLimitError", err)
	}
	if credits.deductCalls != 0 {
		t.Errorf("deduct called %d times, want 0", credits.deductCalls)
	}
	if inf.calls != 0 {
		t.Errorf("vendor called %d times, want 0", inf.calls)
	}
}
