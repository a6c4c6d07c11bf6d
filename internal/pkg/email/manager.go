package email

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/clearpix/clearpix-api/internal/pkg/fallback"
)

// PreferenceChecker reports whether a recipient accepts emails of a
// given category.
type PreferenceChecker interface {
	AllowsCategory(ctx context.Context, userID uuid.UUID, address string, category Category) (bool, error)
}

// Manager sends transactional email through a priority-ordered list of
// providers, falling back to the next one when a send fails, and
// attributes quota usage to the provider that actually delivered.
type Manager struct {
	selector *fallback.Selector[*Provider]
	usage    UsageStore
	prefs    PreferenceChecker
}

// NewManager builds a manager over the given providers. prefs may be
// nil, in which case no opt-out filtering is applied.
func NewManager(usage UsageStore, prefs PreferenceChecker, providers ...*Provider) *Manager {
	return &Manager{
		selector: fallback.NewSelector(providers...),
		usage:    usage,
		prefs:    prefs,
	}
}

// Send delivers msg to the user, honoring category opt-outs. An opted
// out recipient is treated as a successful no-op. Preference lookup
// failures fail open: the message is still sent.
func (m *Manager) Send(ctx context.Context, userID uuid.UUID, msg *Message) error {
	if m.prefs != nil && msg.Category != "" {
		allowed, err := m.prefs.AllowsCategory(ctx, userID, msg.To, msg.Category)
		if err != nil {
			log.Warn().Err(err).
				Str("user_id", userID.String()).
				Str("category", string(msg.Category)).
				Msg("email preference lookup failed, sending anyway")
		} else if !allowed {
			log.Debug().
				Str("user_id", userID.String()).
				Str("category", string(msg.Category)).
				Msg("recipient opted out, skipping email")
			return nil
		}
	}

	winner, err := m.selector.Execute(ctx, func(ctx context.Context, p *Provider) error {
		return p.Send(ctx, msg)
	})
	if err != nil {
		return err
	}

	if err := m.usage.Increment(ctx, winner.Name()); err != nil {
		log.Warn().Err(err).
			Str("provider", winner.Name()).
			Msg("failed to record email usage")
	}

	log.Info().
		Str("provider", winner.Name()).
		Str("category", string(msg.Category)).
		Msg("email sent")
	return nil
}

// SelectProvider returns the provider that would handle the next send
// without sending anything.
func (m *Manager) SelectProvider(ctx context.Context) (*Provider, error) {
	return m.selector.Pick(ctx)
}
