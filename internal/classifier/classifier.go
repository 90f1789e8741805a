package classifier

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/complaint-service/internal/domain"
)

// Result is the scorer output for a complaint text.
type Result struct {
	Category   domain.TicketCategory
	Priority   domain.TicketPriority
	Sentiment  domain.TicketSentiment
	Confidence float64
	Keywords   []string
}

// Classifier scores complaint text.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

// Fallback is used whenever the scorer fails or times out.
func Fallback() Result {
	return Result{
		Category:   domain.CategoryGeneral,
		Priority:   domain.TicketPriorityMedium,
		Sentiment:  domain.SentimentNeutral,
		Confidence: 0,
	}
}

// Guarded wraps a Classifier with a timeout and fallback.
type Guarded struct {
	inner   Classifier
	timeout time.Duration
	logger  *zap.Logger
}

// NewGuarded builds a guarded classifier.
func NewGuarded(inner Classifier, timeout time.Duration, logger *zap.Logger) *Guarded {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guarded{inner: inner, timeout: timeout, logger: logger}
}

// Classify never fails. The second return value reports whether the
// fallback was used.
func (g *Guarded) Classify(ctx context.Context, text string) (Result, bool) {
	if g == nil || g.inner == nil {
		return Fallback(), true
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := g.inner.Classify(ctx, text)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			g.logger.Warn("classifier failed; using fallback", zap.Error(out.err))
			return Fallback(), true
		}
		return sanitize(out.res), false
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			g.logger.Warn("classifier timed out; using fallback", zap.Duration("timeout", g.timeout))
		} else {
			g.logger.Warn("classifier cancelled; using fallback", zap.Error(err))
		}
		return Fallback(), true
	}
}

func sanitize(res Result) Result {
	fb := Fallback()
	if _, ok := domain.ParseCategory(string(res.Category)); !ok {
		res.Category = fb.Category
	}
	if p, ok := domain.ParsePriority(string(res.Priority)); ok {
		res.Priority = p
	} else {
		res.Priority = fb.Priority
	}
	switch res.Sentiment {
	case domain.SentimentPositive, domain.SentimentNeutral, domain.SentimentNegative:
	default:
		res.Sentiment = fb.Sentiment
	}
	if res.Confidence < 0 {
		res.Confidence = 0
	}
	if res.Confidence > 1 {
		res.Confidence = 1
	}
	return res
}
