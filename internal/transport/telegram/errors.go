package telegram

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// APIError is an unsuccessful Bot API reply. Callers can use errors.As to
// inspect it:
//
//	var apiErr *APIError
//	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 { ... }
type APIError struct {
	Method      string
	Code        int
	Description string
	// RetryAfter is set when the request was rate limited.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s: %d %s", e.Method, e.Code, e.Description)
}

// IsUnreachable reports whether err says the chat cannot be written to, for
// example because the user blocked the bot or deleted the account.
func IsUnreachable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == http.StatusForbidden {
		return true
	}
	return apiErr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Description), "chat not found")
}

// IsRateLimited reports whether err is a rate-limit reply and returns the
// delay the server asked for.
func IsRateLimited(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return apiErr.RetryAfter, true
	}
	return 0, false
}
