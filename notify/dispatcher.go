// Package notify posts one rich side-channel notification per clip event at
// ingestion time, independent of the end-of-stream comment.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/tsnip/clip"
	"github.com/onnwee/tsnip/telemetry"
)

// Payload is the content of one notification.
type Payload struct {
	VideoID      string
	Title        string
	URL          string
	ThumbnailURL string
	Message      string
	Author       string
	Timestamp    string
	SubmittedAt  time.Time
}

// Poster delivers a payload to a target such as a webhook URL.
type Poster interface {
	PostNotification(ctx context.Context, target string, p Payload) error
}

// Integrations resolves the side-channel mapping of a channel.
type Integrations interface {
	GetChannelIntegration(ctx context.Context, channelID string) (*clip.ChannelIntegration, error)
}

// Streams finds the current or most recent stream of a channel.
type Streams interface {
	LatestStreamForChannel(ctx context.Context, channelID string) (*clip.StreamRecord, error)
}

// MetadataSource fills in a start time the store does not know yet.
type MetadataSource interface {
	GetVideoMetadata(ctx context.Context, videoID string) (clip.VideoMetadata, error)
}

// Result says what Dispatch did.
type Result string

const (
	ResultSent       Result = "sent"
	ResultNoTarget   Result = "no_target"
	ResultSuppressed Result = "suppressed"
	ResultFailed     Result = "failed"
)

// DefaultTimeout bounds a whole Dispatch call.
const DefaultTimeout = 10 * time.Second

// Dispatcher builds and sends notifications. Platform may be nil, in which
// case streams without a stored start time are suppressed.
type Dispatcher struct {
	Integrations Integrations
	Streams      Streams
	Platform     MetadataSource
	Poster       Poster
	Timeout      time.Duration
}

// Dispatch sends the notification for ev. It never fails the caller; the
// returned Result is informational.
func (d *Dispatcher) Dispatch(ctx context.Context, ev clip.Event) (res Result) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "notify"), slog.String("channel_id", ev.ChannelID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("notification panic", slog.Any("panic", r))
			res = ResultFailed
		}
		telemetry.IncNotification(string(res))
	}()

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if d.Integrations == nil || ev.ChannelID == "" {
		return ResultNoTarget
	}
	ci, err := d.Integrations.GetChannelIntegration(ctx, ev.ChannelID)
	if err != nil {
		log.Warn("integration lookup failed", slog.Any("err", err))
		return ResultFailed
	}
	if ci == nil || ci.NotifyTarget == "" {
		log.Debug("no notification target for channel")
		return ResultNoTarget
	}

	p, ok := d.build(ctx, log, ev)
	if !ok {
		return ResultSuppressed
	}
	if err := d.Poster.PostNotification(ctx, ci.NotifyTarget, p); err != nil {
		log.Warn("notification post failed", slog.String("video_id", p.VideoID), slog.Any("err", err))
		return ResultFailed
	}
	log.Info("notification sent", slog.String("video_id", p.VideoID), slog.String("timestamp", p.Timestamp))
	return ResultSent
}

func (d *Dispatcher) build(ctx context.Context, log *slog.Logger, ev clip.Event) (Payload, bool) {
	if d.Streams == nil {
		return Payload{}, false
	}
	rec, err := d.Streams.LatestStreamForChannel(ctx, ev.ChannelID)
	if err != nil {
		log.Warn("stream lookup failed, suppressing notification", slog.Any("err", err))
		return Payload{}, false
	}
	if rec == nil || rec.VideoID == "" {
		log.Info("no stream known for channel, suppressing notification")
		return Payload{}, false
	}

	title, start := rec.Title, rec.StreamStart
	var thumb string
	if d.Platform != nil && (start == nil || title == "") {
		md, err := d.Platform.GetVideoMetadata(ctx, rec.VideoID)
		if err != nil {
			log.Warn("video metadata unavailable", slog.String("video_id", rec.VideoID), slog.Any("err", err))
		} else {
			if start == nil {
				start = md.LiveStart
			}
			if title == "" {
				title = md.Title
			}
			thumb = md.ThumbnailURL
		}
	}
	if start == nil {
		log.Info("stream start unknown, suppressing notification", slog.String("video_id", rec.VideoID))
		return Payload{}, false
	}
	if thumb == "" {
		thumb = clip.ThumbnailURL(rec.VideoID)
	}

	secs := clip.ElapsedSeconds(*start, ev.SubmittedAt, ev.DelaySeconds)
	author := clip.CleanUser(ev.UserName)
	if author == "" {
		author = "anonymous"
	}
	return Payload{
		VideoID:      rec.VideoID,
		Title:        title,
		URL:          clip.WatchURL(rec.VideoID, secs),
		ThumbnailURL: thumb,
		Message:      clip.CleanMessage(ev.Message),
		Author:       author,
		Timestamp:    clip.FormatSeconds(secs),
		SubmittedAt:  ev.SubmittedAt,
	}, true
}
