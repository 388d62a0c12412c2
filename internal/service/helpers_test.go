package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/atinyakov/GophRelay/internal/models"
	"go.uber.org/zap"
)

const testAdmin models.UserID = 1

var errBoom = errors.New("boom")

// memRepo is an in-memory UserRepository that can be told to fail.
type memRepo struct {
	mu        sync.Mutex
	users     map[models.UserID]models.UserRecord
	challenge *models.SecurityChallenge
	backup    int64
	saves     int
	failSave  error
	failLoad  error
}

func newMemRepo() *memRepo {
	return &memRepo{users: make(map[models.UserID]models.UserRecord)}
}

func (r *memRepo) Load(context.Context) (models.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failLoad != nil {
		return models.Snapshot{}, r.failLoad
	}
	snap := models.Snapshot{Challenge: r.challenge, BackupChannel: r.backup}
	for _, u := range r.users {
		snap.Users = append(snap.Users, u)
	}
	return snap, nil
}

func (r *memRepo) SaveUser(_ context.Context, u models.UserRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave != nil {
		return r.failSave
	}
	r.saves++
	r.users[u.ID] = u
	return nil
}

func (r *memRepo) SaveChallenge(_ context.Context, c models.SecurityChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave != nil {
		return r.failSave
	}
	r.challenge = &c
	return nil
}

func (r *memRepo) SaveBackupChannel(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave != nil {
		return r.failSave
	}
	r.backup = id
	return nil
}

func (r *memRepo) stored(id models.UserID) models.UserRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id]
}

// fakeTransport records every send and hands out increasing message ids.
type fakeTransport struct {
	mu       sync.Mutex
	nextID   int64
	sent     []models.Outbound
	answered []string
	failFor  map[int64]error
	block    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{nextID: 100, failFor: make(map[int64]error)}
}

func (t *fakeTransport) Send(ctx context.Context, msg models.Outbound) (int64, error) {
	if t.block != nil {
		select {
		case <-t.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err, ok := t.failFor[msg.ChatID]; ok {
		return 0, err
	}
	t.nextID++
	t.sent = append(t.sent, msg)
	return t.nextID, nil
}

func (t *fakeTransport) AnswerCallback(_ context.Context, id, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.answered = append(t.answered, id+":"+text)
	return nil
}

func (t *fakeTransport) fail(chat int64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failFor[chat] = err
}

func (t *fakeTransport) sentTo(chat int64) []models.Outbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.Outbound
	for _, m := range t.sent {
		if m.ChatID == chat {
			out = append(out, m)
		}
	}
	return out
}

// mapCorrelations is a plain concurrent CorrelationStore.
type mapCorrelations struct {
	mu      sync.Mutex
	m       map[models.MessageRef]models.UserID
	failPut error
}

func newMapCorrelations() *mapCorrelations {
	return &mapCorrelations{m: make(map[models.MessageRef]models.UserID)}
}

func (c *mapCorrelations) Put(_ context.Context, ref models.MessageRef, user models.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPut != nil {
		return c.failPut
	}
	c.m[ref] = user
	return nil
}

func (c *mapCorrelations) Get(_ context.Context, ref models.MessageRef) (models.UserID, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.m[ref]
	return u, ok, nil
}

func (c *mapCorrelations) forget(ref models.MessageRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, ref)
}

var defaultChallenge = models.SecurityChallenge{Question: "What's your secret phrase?", Answer: "open sesame"}

type fixture struct {
	repo         *memRepo
	store        *UserStore
	transport    *fakeTransport
	correlations *mapCorrelations
	auth         *AuthService
	relay        *RelayService
	correlator   *Correlator
	admin        *AdminService
}

func newFixture(t *testing.T, settings Settings) *fixture {
	t.Helper()
	if settings.AdminID == 0 {
		settings.AdminID = testAdmin
	}
	f := &fixture{
		repo:         newMemRepo(),
		transport:    newFakeTransport(),
		correlations: newMapCorrelations(),
	}
	f.store = NewUserStore(f.repo, defaultChallenge)
	f.auth = NewAuthService(f.store, settings)
	f.relay = NewRelayService(f.store, f.transport, f.correlations, settings, zap.NewNop())
	f.correlator = NewCorrelator(f.correlations)
	f.admin = NewAdminService(f.store, f.relay, settings, zap.NewNop())
	return f
}

func from(id models.UserID, name string) models.Sender {
	return models.Sender{ID: id, DisplayName: name}
}

// authenticate walks id through the challenge.
func (f *fixture) authenticate(t *testing.T, id models.UserID, name string) {
	t.Helper()
	ctx := context.Background()
	d, err := f.auth.HandleIncoming(ctx, from(id, name), models.Text("hello"))
	if err != nil || d.Outcome != ChallengeIssued {
		t.Fatalf("challenge for %d: %v %v", id, d.Outcome, err)
	}
	d, err = f.auth.HandleIncoming(ctx, from(id, name), models.Text(defaultChallenge.Answer))
	if err != nil || d.Outcome != AuthenticatedPassthrough {
		t.Fatalf("answer for %d: %v %v", id, d.Outcome, err)
	}
}
