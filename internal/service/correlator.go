package service

import (
	"context"
	"fmt"

	"github.com/atinyakov/GophRelay/internal/models"
)

// Correlator resolves which user an administrator reply belongs to.
type Correlator struct {
	correlations CorrelationStore
}

// NewCorrelator constructs a Correlator reading from correlations.
func NewCorrelator(correlations CorrelationStore) *Correlator {
	return &Correlator{correlations: correlations}
}

// Resolve looks up the user the replied-to message was forwarded for. A reply
// that is not anchored to a recorded message yields ErrNoCorrelation; there is
// no fallback to any other user.
func (c *Correlator) Resolve(ctx context.Context, reply models.Inbound) (models.UserID, error) {
	if reply.ReplyTo == nil {
		return 0, ErrNoCorrelation
	}
	ref := models.MessageRef{ChatID: reply.Chat.ID, MessageID: *reply.ReplyTo}
	user, ok, err := c.correlations.Get(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("lookup correlation %d/%d: %w", ref.ChatID, ref.MessageID, err)
	}
	if !ok {
		return 0, ErrNoCorrelation
	}
	return user, nil
}
