package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/complaint-service/internal/events"
)

// Consumer reacts to lifecycle events once subscribed.
type Consumer interface {
	RegisterHandlers(d events.Dispatcher)
}

// Pool owns the async dispatcher that delivers committed lifecycle events to
// their consumers.
type Pool struct {
	dispatcher *events.AsyncDispatcher
	logger     *zap.Logger
}

// StartNotificationWorker subscribes consumers and launches the dispatch workers.
func StartNotificationWorker(ctx context.Context, dispatcher *events.AsyncDispatcher, logger *zap.Logger, consumers ...Consumer) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, c := range consumers {
		if c == nil {
			continue
		}
		c.RegisterHandlers(dispatcher)
	}
	dispatcher.Start(ctx)
	logger.Info("notification workers started", zap.Int("consumers", len(consumers)))
	return &Pool{dispatcher: dispatcher, logger: logger}
}

// Shutdown drains queued events or gives up when ctx expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	if err := p.dispatcher.Close(ctx); err != nil {
		p.logger.Warn("notification workers did not drain", zap.Error(err))
		return err
	}
	p.logger.Info("notification workers drained")
	return nil
}
