package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"
)

type fakeStripe struct {
	sub     *stripe.Subscription
	invoice *stripe.Invoice

	getErr    error
	updateErr error

	updateParams         *stripe.SubscriptionUpdateParams
	createScheduleParams *stripe.SubscriptionScheduleCreateParams
	updateScheduleID     string
	updateScheduleParams *stripe.SubscriptionScheduleUpdateParams
}

func (f *fakeStripe) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.sub, nil
}

func (f *fakeStripe) UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionUpdateParams) (*stripe.Subscription, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updateParams = params
	return f.sub, nil
}

func (f *fakeStripe) PreviewInvoice(ctx context.Context, params *stripe.InvoiceCreatePreviewParams) (*stripe.Invoice, error) {
	return f.invoice, nil
}

func (f *fakeStripe) CreateSchedule(ctx context.Context, params *stripe.SubscriptionScheduleCreateParams) (*stripe.SubscriptionSchedule, error) {
	f.createScheduleParams = params
	return &stripe.SubscriptionSchedule{ID: "sub_sched_new"}, nil
}

func (f *fakeStripe) UpdateSchedule(ctx context.Context, id string, params *stripe.SubscriptionScheduleUpdateParams) (*stripe.SubscriptionSchedule, error) {
	f.updateScheduleID = id
	f.updateScheduleParams = params
	return &stripe.SubscriptionSchedule{ID: id}, nil
}

type stubMirrorRepo struct {
	sub *Subscription

	scheduledPriceID string
	scheduledAt      time.Time
	appliedPriceID   string
	syncCalls        int
	claims           map[string]bool
}

func (s *stubMirrorRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	if s.sub == nil {
		return nil, ErrNoActiveSubscription
	}
	return s.sub, nil
}

func (s *stubMirrorRepo) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error) {
	if s.sub == nil {
		return nil, ErrNoActiveSubscription
	}
	return s.sub, nil
}

func (s *stubMirrorRepo) SetScheduledChange(ctx context.Context, id uuid.UUID, scheduledPriceID string, changeAt time.Time) error {
	s.scheduledPriceID = scheduledPriceID
	s.scheduledAt = changeAt
	return nil
}

func (s *stubMirrorRepo) ApplyImmediateChange(ctx context.Context, id uuid.UUID, priceID string, periodStart, periodEnd time.Time) error {
	s.appliedPriceID = priceID
	return nil
}

func (s *stubMirrorRepo) SyncState(ctx context.Context, stripeSubscriptionID, priceID string, status Status, periodStart, periodEnd time.Time) error {
	s.syncCalls++
	return nil
}

func (s *stubMirrorRepo) ClearScheduledChange(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (s *stubMirrorRepo) MarkEventProcessed(ctx context.Context, eventID string) (bool, error) {
	return true, nil
}

func (s *stubMirrorRepo) ClaimCycleGrant(ctx context.Context, userID uuid.UUID, priceID string, periodStart time.Time) (bool, error) {
	key := fmt.Sprintf("%s|%s|%d", userID, priceID, periodStart.Unix())
	if s.claims[key] {
		return false, nil
	}
	if s.claims == nil {
		s.claims = make(map[string]bool)
	}
	s.claims[key] = true
	return true, nil
}

type stubTierUpdater struct {
	tiers map[uuid.UUID]string
}

func (s *stubTierUpdater) UpdatePlanTier(ctx context.Context, userID uuid.UUID, tier string) error {
	if s.tiers == nil {
		s.tiers = make(map[uuid.UUID]string)
	}
	s.tiers[userID] = tier
	return nil
}

func testCatalog() *Catalog {
	return NewCatalog([]Plan{
		{Key: "hobby", Name: "Hobby", CreditsPerCycle: 200, PriceIDMonthly: "price_hobby"},
		{Key: "pro", Name: "Pro", CreditsPerCycle: 1000, PriceIDMonthly: "price_pro"},
		{Key: "business", Name: "Business", CreditsPerCycle: 5000, PriceIDMonthly: "price_business"},
	})
}

var testPeriodEnd = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

func liveSubscription(priceID string) *stripe.Subscription {
	return &stripe.Subscription{
		ID:     "sub_123",
		Status: stripe.SubscriptionStatusActive,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					ID:                 "si_123",
					Quantity:           1,
					Price:              &stripe.Price{ID: priceID},
					CurrentPeriodStart: testPeriodEnd.AddDate(0, -1, 0).Unix(),
					CurrentPeriodEnd:   testPeriodEnd.Unix(),
				},
			},
		},
	}
}

func mirrorSubscription(userID uuid.UUID, priceID string) *Subscription {
	return &Subscription{
		ID:                   uuid.New(),
		UserID:               userID,
		StripeCustomerID:     "cus_123",
		StripeSubscriptionID: "sub_123",
		PriceID:              priceID,
		Status:               StatusActive,
	}
}

func TestPreviewChange_DowngradeHasZeroProration(t *testing.T) {
	userID := uuid.New()
	repo := &stubMirrorRepo{sub: mirrorSubscription(userID, "price_pro")}
	sc := &fakeStripe{sub: liveSubscription("price_pro")}
	svc := NewService(repo, sc, testCatalog(), &stubTierUpdater{})

	preview, err := svc.PreviewChange(context.Background(), userID, "price_hobby")
	if err != nil {
		t.Fatalf("PreviewChange() error = %v", err)
	}

	if !preview.IsDowngrade {
		t.Error("expected downgrade classification")
	}
	if preview.AmountDue != 0 {
		t.Errorf("amount due = %d, want 0", preview.AmountDue)
	}
	if preview.EffectiveImmediately {
		t.Error("downgrade should not be effective immediately")
	}
	if !preview.EffectiveDate.Equal(testPeriodEnd) {
		t.Errorf("effective date = %v, want period end %v", preview.EffectiveDate, testPeriodEnd)
	}
}

func TestPreviewChange_UpgradeSumsOnlyMatchingLines(t *testing.T) {
	userID := uuid.New()
	repo := &stubMirrorRepo{sub: mirrorSubscription(userID, "price_hobby")}
	sc := &fakeStripe{
		sub: liveSubscription("price_hobby"),
		invoice: &stripe.Invoice{
			Currency: stripe.CurrencyUSD,
			Lines: &stripe.InvoiceLineItemList{
				Data: []*stripe.InvoiceLineItem{
					{Description: "Remaining time on Business after 30 Aug 2026", Amount: 4500},
					{Description: "Unused time on Hobby after 30 Aug 2026", Amount: -900},
					{Description: "Metered API overage", Amount: 1234},
				},
			},
		},
	}
	svc := NewService(repo, sc, testCatalog(), &stubTierUpdater{})

	preview, err := svc.PreviewChange(context.Background(), userID, "price_business")
	if err != nil {
		t.Fatalf("PreviewChange() error = %v", err)
	}

	if preview.IsDowngrade {
		t.Error("expected upgrade classification")
	}
	if preview.AmountDue != 3600 {
		t.Errorf("amount due = %d, want 3600 (unrelated line excluded)", preview.AmountDue)
	}
	if !preview.EffectiveImmediately {
		t.Error("upgrade should be effective immediately")
	}
}

func TestPreviewChange_TieIsNotDowngrade(t *testing.T) {
	catalog := NewCatalog([]Plan{
		{Key: "pro", Name: "Pro", CreditsPerCycle: 1000, PriceIDMonthly: "price_pro", PriceIDYearly: "price_pro_yr"},
	})
	if catalog.IsDowngrade("price_pro", "price_pro_yr") {
		t.Error("equal credit plans must not classify as downgrade")
	}
}

func TestPreviewChange_Validation(t *testing.T) {
	userID := uuid.New()
	repo := &stubMirrorRepo{sub: mirrorSubscription(userID, "price_pro")}
	sc := &fakeStripe{sub: liveSubscription("price_pro")}
	svc := NewService(repo, sc, testCatalog(), &stubTierUpdater{})

	if _, err := svc.PreviewChange(context.Background(), userID, "price_unknown"); !errors.Is(err, ErrInvalidPriceID) {
		t.Errorf("unknown price error = %v, want ErrInvalidPriceID", err)
	}
	if _, err := svc.PreviewChange(context.Background(), userID, "price_pro"); !errors.Is(err, ErrSamePlan) {
		t.Errorf("same plan error = %v, want ErrSamePlan", err)
	}

	repo.sub = nil
	if _, err := svc.PreviewChange(context.Background(), userID, "price_hobby"); !errors.Is(err, ErrNoActiveSubscription) {
		t.Errorf("missing subscription error = %v, want ErrNoActiveSubscription", err)
	}
}

func TestApplyChange_StaleStateRejected(t *testing.T) {
	userID := uuid.New()
	mirror := mirrorSubscription(userID, "price_hobby")
	repo := &stubMirrorRepo{sub: mirror}
	// Live subscription moved to a different price since preview.
	sc := &fakeStripe{sub: liveSubscription("price_business")}
	svc := NewService(repo, sc, testCatalog(), &stubTierUpdater{})

	_, err := svc.ApplyChange(context.Background(), userID, "price_pro")
	if !errors.Is(err, ErrSubscriptionModified) {
		t.Fatalf("ApplyChange() error = %v, want ErrSubscriptionModified", err)
	}
	if repo.appliedPriceID != "" || repo.scheduledPriceID != "" {
		t.Error("mirror must be untouched on stale-state rejection")
	}
}

func TestApplyChange_DowngradeSchedulesTwoPhases(t *testing.T) {
	userID := uuid.New()
	mirror := mirrorSubscription(userID, "price_pro")
	repo := &stubMirrorRepo{sub: mirror}
	sc := &fakeStripe{sub: liveSubscription("price_pro")}
	users := &stubTierUpdater{}
	svc := NewService(repo, sc, testCatalog(), users)

	result, err := svc.ApplyChange(context.Background(), userID, "price_hobby")
	if err != nil {
		t.Fatalf("ApplyChange() error = %v", err)
	}

	if !result.IsDowngrade || result.EffectiveImmediately {
		t.Error("expected scheduled downgrade result")
	}
	if result.PriceID != "price_pro" {
		t.Errorf("result price id = %s, want unchanged price_pro", result.PriceID)
	}
	if sc.createScheduleParams == nil {
		t.Fatal("expected a schedule to be created from the subscription")
	}
	if sc.updateScheduleParams == nil || len(sc.updateScheduleParams.Phases) != 2 {
		t.Fatalf("expected two schedule phases, got %+v", sc.updateScheduleParams)
	}
	phase2 := sc.updateScheduleParams.Phases[1]
	if *phase2.Items[0].Price != "price_hobby" {
		t.Errorf("phase 2 price = %s, want price_hobby", *phase2.Items[0].Price)
	}
	if *sc.updateScheduleParams.EndBehavior != "release" {
		t.Errorf("end behavior = %s, want release", *sc.updateScheduleParams.EndBehavior)
	}
	if repo.scheduledPriceID != "price_hobby" {
		t.Errorf("mirror scheduled price = %s, want price_hobby", repo.scheduledPriceID)
	}
	if repo.appliedPriceID != "" {
		t.Error("mirror primary price must not change on downgrade")
	}
	if users.tiers[userID] != "hobby" {
		t.Errorf("plan tier = %s, want hobby", users.tiers[userID])
	}
}

func TestApplyChange_DowngradeReusesAttachedSchedule(t *testing.T) {
	userID := uuid.New()
	repo := &stubMirrorRepo{sub: mirrorSubscription(userID, "price_pro")}
	live := liveSubscription("price_pro")
	live.Schedule = &stripe.SubscriptionSchedule{ID: "sub_sched_existing"}
	sc := &fakeStripe{sub: live}
	svc := NewService(repo, sc, testCatalog(), &stubTierUpdater{})

	if _, err := svc.ApplyChange(context.Background(), userID, "price_hobby"); err != nil {
		t.Fatalf("ApplyChange() error = %v", err)
	}

	if sc.createScheduleParams != nil {
		t.Error("must not create a second schedule when one is attached")
	}
	if sc.updateScheduleID != "sub_sched_existing" {
		t.Errorf("updated schedule = %s, want sub_sched_existing", sc.updateScheduleID)
	}
}

func TestApplyChange_UpgradeUpdatesImmediately(t *testing.T) {
	userID := uuid.New()
	mirror := mirrorSubscription(userID, "price_hobby")
	scheduled := "price_free"
	mirror.ScheduledPriceID = &scheduled
	repo := &stubMirrorRepo{sub: mirror}
	sc := &fakeStripe{sub: liveSubscription("price_hobby")}
	users := &stubTierUpdater{}
	svc := NewService(repo, sc, testCatalog(), users)

	result, err := svc.ApplyChange(context.Background(), userID, "price_business")
	if err != nil {
		t.Fatalf("ApplyChange() error = %v", err)
	}

	if result.IsDowngrade || !result.EffectiveImmediately {
		t.Error("expected immediate upgrade result")
	}
	if sc.updateParams == nil {
		t.Fatal("expected subscription item update")
	}
	if *sc.updateParams.Items[0].Price != "price_business" {
		t.Errorf("updated price = %s, want price_business", *sc.updateParams.Items[0].Price)
	}
	if *sc.updateParams.ProrationBehavior != "create_prorations" {
		t.Errorf("proration behavior = %s, want create_prorations", *sc.updateParams.ProrationBehavior)
	}
	if *sc.updateParams.PaymentBehavior != "error_if_incomplete" {
		t.Errorf("payment behavior = %s, want error_if_incomplete", *sc.updateParams.PaymentBehavior)
	}
	if repo.appliedPriceID != "price_business" {
		t.Errorf("mirror price = %s, want price_business", repo.appliedPriceID)
	}
	if users.tiers[userID] != "business" {
		t.Errorf("plan tier = %s, want business", users.tiers[userID])
	}
}

func TestApplyChange_ProviderErrorLeavesMirrorUntouched(t *testing.T) {
	userID := uuid.New()
	repo := &stubMirrorRepo{sub: mirrorSubscription(userID, "price_hobby")}
	sc := &fakeStripe{
		sub:       liveSubscription("price_hobby"),
		updateErr: &stripe.Error{Code: stripe.ErrorCodeCardDeclined, Msg: "card declined"},
	}
	svc := NewService(repo, sc, testCatalog(), &stubTierUpdater{})

	_, err := svc.ApplyChange(context.Background(), userID, "price_business")

	var provider *ProviderError
	if !errors.As(err, &provider) {
		t.Fatalf("ApplyChange() error = %v, want ProviderError", err)
	}
	if provider.Code != string(stripe.ErrorCodeCardDeclined) {
		t.Errorf("vendor code = %s, want card_declined", provider.Code)
	}
	if repo.appliedPriceID != "" {
		t.Error("mirror must be untouched when the provider call fails")
	}
}
