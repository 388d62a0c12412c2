package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/atinyakov/GophRelay/internal/models"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const defaultBroadcastWorkers = 4

// AdminService implements the operations reserved to the administrator.
// Every method takes the caller identity and fails with ErrUnauthorized for
// anyone else.
type AdminService struct {
	store    *UserStore
	relay    *RelayService
	settings Settings
	log      *zap.Logger
}

// NewAdminService constructs an AdminService.
func NewAdminService(store *UserStore, relay *RelayService, settings Settings, log *zap.Logger) *AdminService {
	return &AdminService{store: store, relay: relay, settings: settings, log: log}
}

func (s *AdminService) authorize(caller models.UserID) error {
	if caller != s.settings.AdminID {
		return ErrUnauthorized
	}
	return nil
}

// SetupBackupGroup makes chatID the backup channel, replacing any previous one.
func (s *AdminService) SetupBackupGroup(ctx context.Context, caller models.UserID, chatID int64) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	if chatID == 0 {
		return fmt.Errorf("%w: backup channel id is zero", ErrMalformedInput)
	}
	if err := s.store.SetBackupChannel(ctx, chatID); err != nil {
		return err
	}
	s.log.Info("backup channel set up", zap.Int64("backup_channel", chatID))
	return nil
}

// Block stops relaying from and to target. Messages already forwarded are not recalled.
func (s *AdminService) Block(ctx context.Context, caller, target models.UserID) (models.UserRecord, error) {
	return s.setBlocked(ctx, caller, target, true)
}

// Unblock restores relaying for target without requiring re-authentication.
func (s *AdminService) Unblock(ctx context.Context, caller, target models.UserID) (models.UserRecord, error) {
	return s.setBlocked(ctx, caller, target, false)
}

func (s *AdminService) setBlocked(ctx context.Context, caller, target models.UserID, blocked bool) (models.UserRecord, error) {
	if err := s.authorize(caller); err != nil {
		return models.UserRecord{}, err
	}
	if target == s.settings.AdminID {
		return models.UserRecord{}, fmt.Errorf("%w: the admin cannot be blocked", ErrMalformedInput)
	}
	rec, err := s.store.Update(ctx, target, func(rec *models.UserRecord) error {
		rec.Blocked = blocked
		if !blocked {
			rec.FailedAttempts = 0
		}
		return nil
	})
	if err != nil {
		return models.UserRecord{}, err
	}
	s.log.Info("user block flag changed", zap.Int64("user_id", target), zap.Bool("blocked", blocked))
	return rec, nil
}

// ListUsers returns every known user ordered by id.
func (s *AdminService) ListUsers(_ context.Context, caller models.UserID) ([]models.UserRecord, error) {
	if err := s.authorize(caller); err != nil {
		return nil, err
	}
	return s.store.List(), nil
}

// SetSecurityQuestion parses raw as "question|answer" and installs it.
// Users that are already authenticated stay authenticated.
func (s *AdminService) SetSecurityQuestion(ctx context.Context, caller models.UserID, raw string) (models.SecurityChallenge, error) {
	if err := s.authorize(caller); err != nil {
		return models.SecurityChallenge{}, err
	}
	c, err := ParseChallenge(raw)
	if err != nil {
		return models.SecurityChallenge{}, err
	}
	if err := s.store.SetChallenge(ctx, c); err != nil {
		return models.SecurityChallenge{}, err
	}
	s.log.Info("security question replaced")
	return c, nil
}

// BroadcastResult reports the outcome of one broadcast job.
type BroadcastResult struct {
	JobID       uuid.UUID
	Recipients  int
	Succeeded   int
	Failed      int
	FailedUsers []models.UserID
	// Err aggregates the individual delivery errors.
	Err error
}

// Broadcast delivers msg to every authenticated, non-blocked user. Deliveries
// run on a bounded worker pool paced by a token bucket; a failed delivery
// never stops the others.
func (s *AdminService) Broadcast(ctx context.Context, caller models.UserID, msg models.Content) (BroadcastResult, error) {
	if err := s.authorize(caller); err != nil {
		return BroadcastResult{}, err
	}
	if msg.IsText() && msg.Text == "" {
		return BroadcastResult{}, fmt.Errorf("%w: broadcast message is empty", ErrMalformedInput)
	}

	var recipients []models.UserID
	for _, u := range s.store.List() {
		if u.ID == s.settings.AdminID || u.Blocked || u.AuthState != models.AuthAuthenticated {
			continue
		}
		recipients = append(recipients, u.ID)
	}

	res := BroadcastResult{JobID: uuid.New(), Recipients: len(recipients)}
	log := s.log.With(zap.String("job_id", res.JobID.String()))
	log.Info("broadcast started", zap.Int("recipients", len(recipients)))

	workers := s.settings.BroadcastWorkers
	if workers <= 0 {
		workers = defaultBroadcastWorkers
	}
	var limiter *rate.Limiter
	if s.settings.BroadcastRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.settings.BroadcastRate), 1)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(workers)
	for _, id := range recipients {
		g.Go(func() error {
			var err error
			if limiter != nil {
				err = limiter.Wait(ctx)
			}
			if err == nil {
				err = s.relay.DeliverToUser(ctx, id, msg)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.FailedUsers = append(res.FailedUsers, id)
				res.Err = multierr.Append(res.Err, err)
				log.Warn("broadcast delivery failed", zap.Int64("user_id", id), zap.Error(err))
				return nil
			}
			res.Succeeded++
			return nil
		})
	}
	_ = g.Wait()

	log.Info("broadcast finished", zap.Int("succeeded", res.Succeeded), zap.Int("failed", res.Failed))
	return res, nil
}
