package bot

import (
	"context"
	"fmt"

	"github.com/atinyakov/GophRelay/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultShards is the number of dispatcher workers used when none is configured.
const DefaultShards = 8

// Handler processes one inbound update.
type Handler interface {
	Handle(ctx context.Context, in models.Inbound)
}

// Dispatcher fans inbound updates out to a fixed set of workers. Every update
// is routed by its sender, so updates of one user are handled one at a time
// in arrival order while different users proceed in parallel.
type Dispatcher struct {
	handler Handler
	shards  []chan models.Inbound
	log     *zap.Logger
}

// NewDispatcher creates a Dispatcher with n workers, each buffering up to
// queue updates. Non-positive values fall back to DefaultShards and 64.
func NewDispatcher(h Handler, n, queue int, log *zap.Logger) *Dispatcher {
	if n <= 0 {
		n = DefaultShards
	}
	if queue <= 0 {
		queue = 64
	}
	d := &Dispatcher{handler: h, shards: make([]chan models.Inbound, n), log: log}
	for i := range d.shards {
		d.shards[i] = make(chan models.Inbound, queue)
	}
	return d
}

func (d *Dispatcher) shardOf(id models.UserID) int {
	return int(uint64(id) % uint64(len(d.shards)))
}

// Submit queues in for its sender's worker. It blocks while that worker's
// queue is full and fails only when ctx is done.
func (d *Dispatcher) Submit(ctx context.Context, in models.Inbound) error {
	select {
	case d.shards[d.shardOf(in.From.ID)] <- in:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit update %d: %w", in.UpdateID, ctx.Err())
	}
}

// Sink returns a callback for update sources that submits with ctx and logs
// updates that could not be queued.
func (d *Dispatcher) Sink(ctx context.Context) func(models.Inbound) {
	return func(in models.Inbound) {
		if err := d.Submit(ctx, in); err != nil {
			d.log.Warn("dropping update", zap.Int64("update_id", in.UpdateID), zap.Error(err))
		}
	}
}

// Handle processes in synchronously on the calling goroutine.
func (d *Dispatcher) Handle(ctx context.Context, in models.Inbound) {
	d.handle(ctx, in)
}

// Run starts the workers and blocks until ctx is done. Updates still queued
// at that point are dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, ch := range d.shards {
		g.Go(func() error {
			d.log.Debug("dispatcher worker started", zap.Int("shard", i))
			for {
				select {
				case <-ctx.Done():
					return nil
				case in := <-ch:
					d.handle(ctx, in)
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) handle(ctx context.Context, in models.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic",
				zap.Int64("update_id", in.UpdateID),
				zap.Int64("user_id", in.From.ID),
				zap.Any("panic", r),
			)
		}
	}()
	d.handler.Handle(ctx, in)
}
