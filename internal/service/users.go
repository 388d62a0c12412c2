// Package service implements the relay core: the user store, the
// security-question gate, message forwarding, reply correlation and the
// admin control surface. Persistence and transport are reached through the
// interfaces declared here.
package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/atinyakov/GophRelay/internal/models"
)

// UserRepository defines the persistence operations required by the UserStore.
type UserRepository interface {
	// Load returns everything persisted so far. An empty repository yields a zero Snapshot.
	Load(ctx context.Context) (models.Snapshot, error)
	// SaveUser inserts or replaces a user record.
	SaveUser(ctx context.Context, user models.UserRecord) error
	// SaveChallenge replaces the security challenge.
	SaveChallenge(ctx context.Context, c models.SecurityChallenge) error
	// SaveBackupChannel replaces the backup channel id.
	SaveBackupChannel(ctx context.Context, chatID int64) error
}

type userEntry struct {
	mu  sync.Mutex
	rec models.UserRecord
}

// UserStore owns user records, the security challenge and the backup channel.
// Reads are served from memory; every mutation is written through the
// repository before it becomes visible. Mutations of one user are serialised
// by a per-user lock, different users proceed in parallel.
type UserStore struct {
	repo UserRepository
	now  func() time.Time

	mu    sync.RWMutex
	users map[models.UserID]*userEntry

	settingsMu sync.RWMutex
	challenge  models.SecurityChallenge
	backup     int64
}

// NewUserStore constructs a UserStore. challenge is used until Load finds a
// persisted one.
func NewUserStore(repo UserRepository, challenge models.SecurityChallenge) *UserStore {
	return &UserStore{
		repo:      repo,
		now:       time.Now,
		users:     make(map[models.UserID]*userEntry),
		challenge: challenge,
	}
}

// Load replaces the in-memory state with the repository contents.
func (s *UserStore) Load(ctx context.Context) error {
	snap, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}

	users := make(map[models.UserID]*userEntry, len(snap.Users))
	for _, u := range snap.Users {
		if !u.AuthState.Valid() {
			u.AuthState = models.AuthUnchallenged
		}
		users[u.ID] = &userEntry{rec: u}
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()

	s.settingsMu.Lock()
	if snap.Challenge != nil {
		s.challenge = *snap.Challenge
	}
	s.backup = snap.BackupChannel
	s.settingsMu.Unlock()
	return nil
}

// Get returns a copy of the record of id.
func (s *UserStore) Get(id models.UserID) (models.UserRecord, bool) {
	s.mu.RLock()
	e, ok := s.users[id]
	s.mu.RUnlock()
	if !ok {
		return models.UserRecord{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true
}

// List returns copies of all records ordered by id.
func (s *UserStore) List() []models.UserRecord {
	s.mu.RLock()
	entries := make([]*userEntry, 0, len(s.users))
	for _, e := range s.users {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]models.UserRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.rec)
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b models.UserRecord) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Touch records a contact from sender, creating the record on first contact,
// then applies fn under the user's lock. The result is persisted and returned.
// If fn fails nothing is persisted and the error is returned as is.
func (s *UserStore) Touch(ctx context.Context, sender models.Sender, fn func(*models.UserRecord) error) (models.UserRecord, error) {
	e := s.entry(sender.ID, true)
	return s.apply(ctx, e, func(rec *models.UserRecord) error {
		if sender.DisplayName != "" {
			rec.DisplayName = sender.DisplayName
		}
		if sender.Username != "" {
			rec.Username = sender.Username
		}
		rec.LastActiveAt = s.now()
		if fn == nil {
			return nil
		}
		return fn(rec)
	})
}

// Update applies fn to an existing record under the user's lock and persists
// the result. Unknown users yield ErrNotFound.
func (s *UserStore) Update(ctx context.Context, id models.UserID, fn func(*models.UserRecord) error) (models.UserRecord, error) {
	e := s.entry(id, false)
	if e == nil {
		return models.UserRecord{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return s.apply(ctx, e, fn)
}

func (s *UserStore) apply(ctx context.Context, e *userEntry, fn func(*models.UserRecord) error) (models.UserRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.rec
	if err := fn(&next); err != nil {
		return e.rec, err
	}
	if err := s.repo.SaveUser(ctx, next); err != nil {
		return e.rec, fmt.Errorf("save user %d: %w", next.ID, err)
	}
	e.rec = next
	return next, nil
}

func (s *UserStore) entry(id models.UserID, create bool) *userEntry {
	s.mu.RLock()
	e, ok := s.users[id]
	s.mu.RUnlock()
	if ok || !create {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.users[id]; ok {
		return e
	}
	now := s.now()
	e = &userEntry{rec: models.UserRecord{
		ID:           id,
		AuthState:    models.AuthUnchallenged,
		CreatedAt:    now,
		LastActiveAt: now,
	}}
	s.users[id] = e
	return e
}

// Challenge returns the current security challenge.
func (s *UserStore) Challenge() models.SecurityChallenge {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.challenge
}

// SetChallenge persists and installs a new security challenge.
func (s *UserStore) SetChallenge(ctx context.Context, c models.SecurityChallenge) error {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	if err := s.repo.SaveChallenge(ctx, c); err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	s.challenge = c
	return nil
}

// BackupChannel returns the backup channel id, if one is set up.
func (s *UserStore) BackupChannel() (int64, bool) {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.backup, s.backup != 0
}

// SetBackupChannel persists and installs the backup channel id.
func (s *UserStore) SetBackupChannel(ctx context.Context, chatID int64) error {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	if err := s.repo.SaveBackupChannel(ctx, chatID); err != nil {
		return fmt.Errorf("save backup channel: %w", err)
	}
	s.backup = chatID
	return nil
}
