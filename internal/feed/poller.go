package feed

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/convsession/internal/model"
)

const DefaultInterval = 10 * time.Second

// Fetcher loads the full message list of a conversation.
type Fetcher interface {
	GetMessages(ctx context.Context, conversationID model.ID) ([]model.Message, error)
}

type PollerOptions struct {
	Interval time.Duration
	// RefreshRate and RefreshBurst throttle manual refreshes.
	RefreshRate  rate.Limit
	RefreshBurst int
}

// Poller fetches the list every Interval and whenever Refresh is called.
type Poller struct {
	fetch          Fetcher
	conversationID model.ID
	interval       time.Duration
	limiter        *rate.Limiter
	refresh        chan struct{}
}

func NewPoller(fetch Fetcher, conversationID model.ID, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.RefreshRate <= 0 {
		opts.RefreshRate = 1
	}
	if opts.RefreshBurst <= 0 {
		opts.RefreshBurst = 3
	}
	return &Poller{
		fetch:          fetch,
		conversationID: conversationID,
		interval:       opts.Interval,
		limiter:        rate.NewLimiter(opts.RefreshRate, opts.RefreshBurst),
		refresh:        make(chan struct{}, 1),
	}
}

func (p *Poller) ConversationID() model.ID { return p.conversationID }

// Refresh asks for an immediate fetch. It returns false when throttled; a request
// made while another is still queued is folded into it.
func (p *Poller) Refresh() bool {
	if !p.limiter.Allow() {
		return false
	}
	select {
	case p.refresh <- struct{}{}:
	default:
	}
	return true
}

func (p *Poller) Run(ctx context.Context, h Handler) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-p.refresh:
			ticker.Reset(p.interval)
		}
		p.poll(ctx, h)
	}
}

func (p *Poller) poll(ctx context.Context, h Handler) {
	msgs, err := p.fetch.GetMessages(ctx, p.conversationID)
	if ctx.Err() != nil {
		// cancelled mid-flight: the conversation changed or the view closed
		return
	}
	if err != nil {
		h(Event{Kind: EventFailed, ConversationID: p.conversationID, Err: err})
		return
	}
	h(Event{Kind: EventSnapshot, ConversationID: p.conversationID, Messages: msgs})
}
