package telegram

import (
	"context"
	"time"

	"github.com/atinyakov/GophRelay/internal/models"
	"go.uber.org/zap"
)

// Poller receives updates with getUpdates long polling.
type Poller struct {
	client  *Client
	timeout time.Duration
	backoff time.Duration
	log     *zap.Logger
}

// NewPoller creates a Poller. timeout is the long-poll duration; the HTTP
// client of c must allow requests at least that long.
func NewPoller(c *Client, timeout time.Duration, log *zap.Logger) *Poller {
	return &Poller{client: c, timeout: timeout, backoff: 3 * time.Second, log: log}
}

// Run polls until ctx is done, handing every supported update to sink in
// the order received. Failed polls are retried after a pause.
func (p *Poller) Run(ctx context.Context, sink func(models.Inbound)) error {
	var offset int64
	for {
		updates, err := p.client.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := p.backoff
			if d, ok := IsRateLimited(err); ok && d > wait {
				wait = d
			}
			p.log.Warn("getUpdates failed", zap.Error(err), zap.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			in, ok := ToInbound(u)
			if !ok {
				p.log.Debug("skipping unsupported update", zap.Int64("update_id", u.UpdateID))
				continue
			}
			sink(in)
		}
	}
}
