package service

import (
	"context"
	"time"

	"github.com/atinyakov/GophRelay/internal/models"
)

// Settings carries process-wide relay parameters into every service.
type Settings struct {
	// AdminID is the single administrator identity.
	AdminID models.UserID
	// SendTimeout bounds every transport send. Zero disables the bound.
	SendTimeout time.Duration
	// MaxAnswerAttempts blocks a user after that many wrong answers. Zero means unlimited.
	MaxAnswerAttempts int
	// BroadcastWorkers is the number of concurrent broadcast deliveries.
	BroadcastWorkers int
	// BroadcastRate is the broadcast pace in messages per second. Zero disables pacing.
	BroadcastRate float64
}

// Outcome is the result of gating an inbound user message.
type Outcome int

const (
	// ChallengeIssued means the question was presented and the message was not relayed.
	ChallengeIssued Outcome = iota + 1
	// AuthenticatedPassthrough means the user is authenticated.
	AuthenticatedPassthrough
	// RetryChallenge means the answer was wrong and the question is re-issued.
	RetryChallenge
	// BlockedRejected means the user is blocked and the message was dropped.
	BlockedRejected
)

func (o Outcome) String() string {
	switch o {
	case ChallengeIssued:
		return "challenge_issued"
	case AuthenticatedPassthrough:
		return "authenticated_passthrough"
	case RetryChallenge:
		return "retry_challenge"
	case BlockedRejected:
		return "blocked_rejected"
	}
	return "unknown"
}

// Decision tells the caller what to do with an inbound user message.
type Decision struct {
	Outcome Outcome
	// Question is set for ChallengeIssued and RetryChallenge.
	Question string
	// Consumed is set when the gate used the message up, as with the
	// correct answer or /start: the user is authenticated but the message
	// itself must not be relayed.
	Consumed bool
	// User is the record after the transition.
	User models.UserRecord
}

// Relay reports whether the message content should be forwarded.
func (d Decision) Relay() bool {
	return d.Outcome == AuthenticatedPassthrough && !d.Consumed
}

// AuthService drives the security-question flow for every user.
type AuthService struct {
	store    *UserStore
	settings Settings
}

// NewAuthService constructs an AuthService over store.
func NewAuthService(store *UserStore, settings Settings) *AuthService {
	return &AuthService{store: store, settings: settings}
}

// IsAdmin reports whether id is the administrator.
func (s *AuthService) IsAdmin(id models.UserID) bool {
	return id == s.settings.AdminID
}

// HandleIncoming gates msg from sender. Every contact refreshes LastActiveAt,
// whatever the outcome.
func (s *AuthService) HandleIncoming(ctx context.Context, sender models.Sender, msg models.Content) (Decision, error) {
	var d Decision
	challenge := s.store.Challenge()

	rec, err := s.store.Touch(ctx, sender, func(rec *models.UserRecord) error {
		d = Decision{}
		if rec.Blocked {
			d.Outcome = BlockedRejected
			return nil
		}

		switch rec.AuthState {
		case models.AuthAuthenticated:
			d.Outcome = AuthenticatedPassthrough
		case models.AuthPendingAnswer:
			if challenge.Matches(msg.Body()) {
				rec.AuthState = models.AuthAuthenticated
				rec.FailedAttempts = 0
				d.Outcome = AuthenticatedPassthrough
				d.Consumed = true
				return nil
			}
			rec.FailedAttempts++
			if limit := s.settings.MaxAnswerAttempts; limit > 0 && rec.FailedAttempts >= limit {
				rec.Blocked = true
				d.Outcome = BlockedRejected
				return nil
			}
			d.Outcome = RetryChallenge
			d.Question = challenge.Question
		default:
			rec.AuthState = models.AuthPendingAnswer
			rec.FailedAttempts = 0
			d.Outcome = ChallengeIssued
			d.Question = challenge.Question
		}
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	d.User = rec
	return d, nil
}

// Seen records contact from sender without changing its authentication
// state.
func (s *AuthService) Seen(ctx context.Context, sender models.Sender) (models.UserRecord, error) {
	return s.store.Touch(ctx, sender, nil)
}

// Start handles the /start command. Unauthenticated users are (re-)issued
// the question without their input being taken as an answer.
func (s *AuthService) Start(ctx context.Context, sender models.Sender) (Decision, error) {
	var d Decision
	challenge := s.store.Challenge()

	rec, err := s.store.Touch(ctx, sender, func(rec *models.UserRecord) error {
		d = Decision{}
		switch {
		case rec.Blocked:
			d.Outcome = BlockedRejected
		case rec.AuthState == models.AuthAuthenticated:
			d.Outcome = AuthenticatedPassthrough
			d.Consumed = true
		default:
			rec.AuthState = models.AuthPendingAnswer
			d.Outcome = ChallengeIssued
			d.Question = challenge.Question
		}
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	d.User = rec
	return d, nil
}

// Status returns the effective state of id. Unknown users are unchallenged.
func (s *AuthService) Status(id models.UserID) models.AuthState {
	rec, ok := s.store.Get(id)
	if !ok {
		return models.AuthUnchallenged
	}
	return rec.EffectiveState()
}
