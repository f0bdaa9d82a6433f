// Package jobs runs the background maintenance of the chat store.
package jobs

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"netyora-chat/internal/metrics"
	"netyora-chat/internal/services"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sweeper is implemented by services.AttachmentService.
type Sweeper interface {
	ExpiredChats(ctx context.Context, now time.Time) ([]string, error)
	SweepChat(ctx context.Context, chatID string, now time.Time) (services.SweepResult, error)
}

// SweepJob deletes expired attachments on a cron schedule. Chats are split
// across workers by hash so no chat is swept by two workers at once.
type SweepJob struct {
	sweeper  Sweeper
	schedule string
	workers  int
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
	running  atomic.Bool
}

func NewSweepJob(sweeper Sweeper, schedule string, workers int, m *metrics.Metrics, logger *zap.Logger) *SweepJob {
	if workers <= 0 {
		workers = 1
	}
	if schedule == "" {
		schedule = "@every 1h"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweepJob{
		sweeper:  sweeper,
		schedule: schedule,
		workers:  workers,
		metrics:  m,
		logger:   logger.Named("sweep"),
		now:      time.Now,
	}
}

// Start runs one sweep immediately and then on the schedule until ctx is done.
func (j *SweepJob) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{j.logger})))
	if _, err := c.AddFunc(j.schedule, func() { j.tick(ctx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", j.schedule, err)
	}
	c.Start()
	go j.tick(ctx)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	j.logger.Info("Sweep scheduled", zap.String("schedule", j.schedule), zap.Int("workers", j.workers))
	return nil
}

// tick skips the run when the previous one is still going.
func (j *SweepJob) tick(ctx context.Context) {
	if !j.running.CompareAndSwap(false, true) {
		j.logger.Warn("Previous sweep still running, skipping")
		return
	}
	defer j.running.Store(false)

	if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("Sweep failed", zap.Error(err))
	}
}

// RunOnce sweeps every chat holding attachments due now.
func (j *SweepJob) RunOnce(ctx context.Context) (services.SweepResult, error) {
	start := time.Now()
	now := j.now()

	ids, err := j.sweeper.ExpiredChats(ctx, now)
	if err != nil {
		return services.SweepResult{}, err
	}

	var (
		mu    sync.Mutex
		total services.SweepResult
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, part := range partition(ids, j.workers) {
		if len(part) == 0 {
			continue
		}
		g.Go(func() error {
			for _, chatID := range part {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := j.sweeper.SweepChat(gctx, chatID, now)
				if err != nil {
					j.logger.Error("Sweep failed for chat", zap.String("chat_id", chatID), zap.Error(err))
				}
				mu.Lock()
				total.Add(res)
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()

	j.metrics.SweepFinished(total.Deleted, total.Failed, time.Since(start))
	j.logger.Info("Sweep finished",
		zap.Int("chats", total.Chats),
		zap.Int("deleted", total.Deleted),
		zap.Int("failed", total.Failed),
		zap.Duration("took", time.Since(start)),
	)
	return total, err
}

// partition assigns each chat id to bucket fnv32a(id) % n.
func partition(ids []string, n int) [][]string {
	parts := make([][]string, n)
	for _, id := range ids {
		h := fnv.New32a()
		_, _ = h.Write([]byte(id))
		i := h.Sum32() % uint32(n)
		parts[i] = append(parts[i], id)
	}
	return parts
}

// cronLogger routes cron's own messages to zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
