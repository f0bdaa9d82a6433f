package services

import (
	"context"
	"time"

	"netyora-chat/internal/metrics"
	"netyora-chat/internal/notify"

	"go.uber.org/zap"
)

const notifyTimeout = 5 * time.Second

// notifier sends notifications on behalf of a command. Failures are logged
// and counted; they never fail the command.
type notifier struct {
	sink    notify.Sink
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func newNotifier(sink notify.Sink, logger *zap.Logger) *notifier {
	if sink == nil {
		sink = notify.NopSink{}
	}
	return &notifier{sink: sink, logger: logger}
}

func (n *notifier) send(ctx context.Context, notes []notify.Notification) {
	if len(notes) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	start := time.Now()
	err := n.sink.SendBulk(ctx, notes)
	n.metrics.ExternalCall("notifications", "send_bulk", time.Since(start), err)
	if err != nil {
		n.logger.Warn("Failed to send notifications",
			zap.String("type", string(notes[0].Type)),
			zap.Int("count", len(notes)),
			zap.Error(err),
		)
	}
}

// fanOut builds one notification per recipient, skipping the actor.
func fanOut(recipients []string, actor string, base notify.Notification) []notify.Notification {
	var out []notify.Notification
	for _, id := range recipients {
		if id == actor {
			continue
		}
		n := base
		n.TargetUserID = id
		n.ActorID = actor
		out = append(out, n)
	}
	return out
}
