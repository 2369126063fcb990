package annotate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/tsnip/clip"
	"github.com/onnwee/tsnip/telemetry"
)

// Outcome is the single result of a Publish call.
type Outcome string

const (
	OutcomePosted         Outcome = "posted"
	OutcomeMemberOnly     Outcome = "member_only"
	OutcomeRetryExhausted Outcome = "retry_exhausted"
	OutcomeQuotaAbort     Outcome = "quota_abort"
)

// Commenter posts a top-level comment on a video.
type Commenter interface {
	PostComment(ctx context.Context, videoID, text string) error
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the default SleepFunc.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const (
	DefaultAttempts = 3
	DefaultBackoff  = 60 * time.Second
)

// Publisher posts an aggregate with a bounded number of attempts, re-checking the
// video status before every attempt.
type Publisher struct {
	Classifier StatusClassifier
	Poster     Commenter
	Attempts   int
	Backoff    time.Duration
	Sleep      SleepFunc
}

// Publish returns exactly one Outcome and never panics.
func (p *Publisher) Publish(ctx context.Context, videoID, body string) (out Outcome) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("video_id", videoID), slog.String("component", "publisher"))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("publish panic", slog.Any("panic", r))
			out = OutcomeRetryExhausted
		}
		telemetry.IncPublishOutcome(string(out))
		if telemetry.PublishDuration != nil {
			telemetry.PublishDuration.Observe(time.Since(start).Seconds())
		}
	}()

	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		last := attempt == attempts
		alog := log.With(slog.Int("attempt", attempt))

		c := p.Classifier.Classify(ctx, videoID)
		switch {
		case c.Reason == ReasonMemberOnly:
			alog.Info("video is member restricted, not posting")
			return OutcomeMemberOnly
		case !c.Eligible:
			if c.Err != nil && clip.KindOf(c.Err) == clip.KindQuota {
				alog.Warn("quota exhausted while classifying", slog.Any("err", c.Err))
				return OutcomeQuotaAbort
			}
			alog.Info("video not ready", slog.String("reason", string(c.Reason)))
		default:
			err := p.Poster.PostComment(ctx, videoID, body)
			if err == nil {
				alog.Info("comment posted")
				return OutcomePosted
			}
			switch clip.KindOf(err) {
			case clip.KindTerminalSkip:
				alog.Warn("comment refused, treating as member restricted", slog.Any("err", err))
				return OutcomeMemberOnly
			case clip.KindQuota:
				alog.Warn("quota exhausted while posting", slog.Any("err", err))
				return OutcomeQuotaAbort
			default:
				alog.Warn("comment post failed", slog.Any("err", err))
			}
		}
		if last {
			break
		}
		if err := p.sleep(ctx); err != nil {
			log.Warn("publish interrupted", slog.Any("err", err))
			return OutcomeRetryExhausted
		}
	}
	log.Warn(fmt.Sprintf("giving up after %d attempts", attempts))
	return OutcomeRetryExhausted
}

func (p *Publisher) sleep(ctx context.Context) error {
	backoff := p.Backoff
	if backoff < 0 {
		backoff = 0
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	return sleep(ctx, backoff)
}
