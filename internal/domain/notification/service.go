package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clearpix/clearpix-api/internal/pkg/email"
)

// Mailer delivers a composed message, falling back across providers.
type Mailer interface {
	Send(ctx context.Context, userID uuid.UUID, msg *email.Message) error
}

// AddressResolver looks up the recipient address for a user.
type AddressResolver interface {
	EmailByUserID(ctx context.Context, userID uuid.UUID) (string, error)
}

// Service composes and sends user-facing emails.
type Service struct {
	mailer Mailer
	users  AddressResolver
}

func NewService(mailer Mailer, users AddressResolver) *Service {
	return &Service{
		mailer: mailer,
		users:  users,
	}
}

// PlanChanged notifies the user that their subscription moved to a new
// plan and how many credits each cycle now grants.
func (s *Service) PlanChanged(ctx context.Context, userID uuid.UUID, planName string, creditsPerCycle int) error {
	address, err := s.users.EmailByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}

	return s.mailer.Send(ctx, userID, &email.Message{
		To:       address,
		Subject:  fmt.Sprintf("Your plan is now %s", planName),
		Category: email.CategoryBilling,
		TextContent: fmt.Sprintf(
			"Your ClearPix subscription has been updated to the %s plan. "+
				"You will receive %d credits each billing cycle.",
			planName, creditsPerCycle,
		),
		HTMLContent: fmt.Sprintf(
			"<p>Your ClearPix subscription has been updated to the <strong>%s</strong> plan.</p>"+
				"<p>You will receive %d credits each billing cycle.</p>",
			planName, creditsPerCycle,
		),
	})
}

// SubscriptionCanceled notifies the user that their subscription ended.
func (s *Service) SubscriptionCanceled(ctx context.Context, userID uuid.UUID) error {
	address, err := s.users.EmailByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}

	return s.mailer.Send(ctx, userID, &email.Message{
		To:       address,
		Subject:  "Your ClearPix subscription has ended",
		Category: email.CategoryBilling,
		TextContent: "Your ClearPix subscription has been canceled. " +
			"Purchased credits remain available; subscription credits are no longer granted.",
		HTMLContent: "<p>Your ClearPix subscription has been canceled.</p>" +
			"<p>Purchased credits remain available; subscription credits are no longer granted.</p>",
	})
}
