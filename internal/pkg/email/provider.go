package email

import (
	"context"
)

// Sender is the vendor-facing send operation implemented by each
// email client.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// Provider wraps a vendor client with its priority rank, enabled flag,
// and free-tier caps. Availability combines the static flag with a
// dynamic quota check against the usage store.
type Provider struct {
	name     string
	priority int
	enabled  bool
	caps     Caps
	sender   Sender
	usage    UsageStore
}

// NewProvider creates a provider descriptor around a vendor client.
func NewProvider(name string, priority int, enabled bool, caps Caps, sender Sender, usage UsageStore) *Provider {
	return &Provider{
		name:     name,
		priority: priority,
		enabled:  enabled,
		caps:     caps,
		sender:   sender,
		usage:    usage,
	}
}

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Priority() int { return p.priority }
func (p *Provider) Enabled() bool { return p.enabled }

// Available reports whether the provider's free-tier quota still has
// room. A cap of zero or below means unlimited.
func (p *Provider) Available(ctx context.Context) (bool, error) {
	usage, err := p.usage.Get(ctx, p.name)
	if err != nil {
		return false, err
	}
	if p.caps.DailyRequests > 0 && usage.DailyCount >= p.caps.DailyRequests {
		return false, nil
	}
	if p.caps.MonthlyCredits > 0 && usage.MonthlyCount >= p.caps.MonthlyCredits {
		return false, nil
	}
	return true, nil
}

// Send delivers the message through the wrapped vendor client.
func (p *Provider) Send(ctx context.Context, msg *Message) error {
	return p.sender.Send(ctx, msg)
}
