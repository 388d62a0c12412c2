package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/GophRelay/internal/models"
)

// Transport is the outbound half of the messaging transport.
type Transport interface {
	// Send delivers msg and returns the identifier the transport assigned to it.
	Send(ctx context.Context, msg models.Outbound) (int64, error)
	// AnswerCallback acknowledges an inline button press.
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// send calls t.Send with a bounded timeout and maps failures onto
// ErrDeliveryTimeout and ErrDeliveryFailed. The transport error stays in
// the chain.
func send(ctx context.Context, t Transport, timeout time.Duration, msg models.Outbound) (int64, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	id, err := t.Send(ctx, msg)
	if err == nil {
		return id, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return 0, fmt.Errorf("%w: chat %d: %w", ErrDeliveryTimeout, msg.ChatID, err)
	}
	return 0, fmt.Errorf("%w: chat %d: %w", ErrDeliveryFailed, msg.ChatID, err)
}
