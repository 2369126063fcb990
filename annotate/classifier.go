// Package annotate turns the clip events of finished broadcasts into one
// timestamp comment per video: it classifies videos, aggregates events,
// publishes the comment with retries and drives the per-scan loop.
package annotate

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/tsnip/clip"
	"github.com/onnwee/tsnip/telemetry"
)

// Reason explains a classification.
type Reason string

const (
	ReasonEligible   Reason = "eligible"
	ReasonStillLive  Reason = "still_live"
	ReasonMemberOnly Reason = "member_only"
	ReasonNotReady   Reason = "not_ready"
)

// Classification is the result of one status check. Err carries the
// transport error behind a not_ready result, if any.
type Classification struct {
	Eligible bool
	Reason   Reason
	Metadata clip.VideoMetadata
	Err      error
}

// MetadataSource loads the platform metadata of a video.
type MetadataSource interface {
	GetVideoMetadata(ctx context.Context, videoID string) (clip.VideoMetadata, error)
}

// StatusClassifier is satisfied by *Classifier; the publisher depends on it so
// tests can script classifications.
type StatusClassifier interface {
	Classify(ctx context.Context, videoID string) Classification
}

// Classifier decides whether a video can be annotated now.
type Classifier struct {
	Source  MetadataSource
	Timeout time.Duration
}

// Classify applies the decision table, first match wins:
//  1. live or upcoming broadcast: still_live
//  2. started without an end time: still_live
//  3. member restricted: member_only
//  4. not public/unlisted, or comments restricted: not_ready
//  5. otherwise eligible
//
// Errors fetching metadata always classify as not_ready.
func (c *Classifier) Classify(ctx context.Context, videoID string) Classification {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	md, err := c.Source.GetVideoMetadata(ctx, videoID)
	var res Classification
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("classify: metadata unavailable",
			slog.String("video_id", videoID), slog.String("kind", clip.KindOf(err).String()), slog.Any("err", err), slog.String("component", "classifier"))
		res = Classification{Reason: ReasonNotReady, Metadata: md, Err: err}
	} else {
		res = Decide(md)
	}
	telemetry.IncClassification(string(res.Reason))
	return res
}

// Decide is the pure decision table over already fetched metadata.
func Decide(md clip.VideoMetadata) Classification {
	res := Classification{Metadata: md}
	switch {
	case md.BroadcastPhase == clip.PhaseLive || md.BroadcastPhase == clip.PhaseUpcoming:
		res.Reason = ReasonStillLive
	case md.LiveStart != nil && md.LiveEnd == nil:
		res.Reason = ReasonStillLive
	case md.IsMemberRestricted:
		res.Reason = ReasonMemberOnly
	case (md.PrivacyStatus != "public" && md.PrivacyStatus != "unlisted") || md.CommentsRestricted:
		res.Reason = ReasonNotReady
	default:
		res.Eligible = true
		res.Reason = ReasonEligible
	}
	return res
}
