package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/atinyakov/GophRelay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingHandler struct {
	mu      sync.Mutex
	seen    map[models.UserID][]int64
	active  map[models.UserID]int
	overlap bool
	total   int
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: make(map[models.UserID][]int64), active: make(map[models.UserID]int)}
}

func (h *recordingHandler) Handle(_ context.Context, in models.Inbound) {
	h.mu.Lock()
	h.active[in.From.ID]++
	if h.active[in.From.ID] > 1 {
		h.overlap = true
	}
	h.mu.Unlock()

	time.Sleep(time.Millisecond)

	h.mu.Lock()
	h.active[in.From.ID]--
	h.seen[in.From.ID] = append(h.seen[in.From.ID], in.UpdateID)
	h.total++
	if in.Content.Text == "panic" {
		h.mu.Unlock()
		panic("boom")
	}
	h.mu.Unlock()
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

func TestDispatcher_PerUserOrderAndExclusion(t *testing.T) {
	h := newRecordingHandler()
	d := NewDispatcher(h, 4, 8, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	const users, perUser = 6, 25
	var id int64
	for i := 0; i < perUser; i++ {
		for u := 1; u <= users; u++ {
			id++
			require.NoError(t, d.Submit(ctx, models.Inbound{UpdateID: id, From: models.Sender{ID: models.UserID(u)}}))
		}
	}

	require.Eventually(t, func() bool { return h.count() == users*perUser }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.False(t, h.overlap, "updates of one user must never run concurrently")
	for u := 1; u <= users; u++ {
		seq := h.seen[models.UserID(u)]
		require.Len(t, seq, perUser)
		for i := 1; i < len(seq); i++ {
			assert.Less(t, seq[i-1], seq[i], "user %d out of order", u)
		}
	}
}

func TestDispatcher_SurvivesHandlerPanic(t *testing.T) {
	h := newRecordingHandler()
	d := NewDispatcher(h, 1, 4, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	sink := d.Sink(ctx)
	sink(models.Inbound{UpdateID: 1, From: models.Sender{ID: 5}, Content: models.Text("panic")})
	sink(models.Inbound{UpdateID: 2, From: models.Sender{ID: 5}, Content: models.Text("fine")})

	require.Eventually(t, func() bool { return h.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_SubmitHonoursContext(t *testing.T) {
	d := NewDispatcher(newRecordingHandler(), 1, 1, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, d.Submit(ctx, models.Inbound{UpdateID: 1}))
	cancel()
	// The queue is full and nobody drains it.
	require.ErrorIs(t, d.Submit(ctx, models.Inbound{UpdateID: 2}), context.Canceled)
}

func TestDispatcher_HandleIsSynchronous(t *testing.T) {
	h := newRecordingHandler()
	d := NewDispatcher(h, 0, 0, zap.NewNop())
	assert.Len(t, d.shards, DefaultShards)

	d.Handle(context.Background(), models.Inbound{UpdateID: 1, From: models.Sender{ID: 3}})
	assert.Equal(t, 1, h.count())
}

func TestDispatcher_NegativeIDsShard(t *testing.T) {
	d := NewDispatcher(newRecordingHandler(), 8, 1, zap.NewNop())
	for _, id := range []models.UserID{-1001234567890, -1, 0, 1, 1 << 40} {
		s := d.shardOf(id)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 8)
	}
}
