package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/googleapi"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/tsnip/clip"
	"github.com/onnwee/tsnip/config"
)

// ServiceSource yields an API service per call so refreshed tokens are used.
type ServiceSource interface {
	API(ctx context.Context) (*yt.Service, error)
}

// ErrVideoNotFound is returned when videos.list has no item for the id.
var ErrVideoNotFound = errors.New("video not found")

// Client implements the video platform operations on top of the Data API.
// Reads go through Reader when set (API key quota), writes through Writer.
type Client struct {
	Reader  ServiceSource
	Writer  ServiceSource
	Timeout time.Duration
}

// NewClient returns a client that uses src for both reads and writes.
func NewClient(src ServiceSource, timeout time.Duration) *Client {
	return &Client{Reader: src, Writer: src, Timeout: timeout}
}

func (c *Client) reader() ServiceSource {
	if c.Reader != nil {
		return c.Reader
	}
	return c.Writer
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithTimeout(ctx, 20*time.Second)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

// GetVideoMetadata loads status, snippet and live details for videoID. The
// members-only probe runs only once the broadcast is over.
func (c *Client) GetVideoMetadata(ctx context.Context, videoID string) (clip.VideoMetadata, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	svc, err := c.reader().API(ctx)
	if err != nil {
		return clip.VideoMetadata{}, clip.NewError(clip.KindTransient, "videos.list", err)
	}
	res, err := svc.Videos.List([]string{"snippet", "status", "liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return clip.VideoMetadata{}, Wrap("videos.list", err)
	}
	if len(res.Items) == 0 {
		return clip.VideoMetadata{}, clip.NewError(clip.KindTransient, "videos.list", fmt.Errorf("%w: %s", ErrVideoNotFound, videoID))
	}
	md := metadataFromVideo(res.Items[0])
	if md.BroadcastPhase == clip.PhaseNone && (md.LiveStart == nil || md.LiveEnd != nil) {
		restricted, err := c.isMemberRestricted(ctx, videoID)
		if err != nil {
			return md, err
		}
		md.IsMemberRestricted = restricted
	}
	return md, nil
}

func metadataFromVideo(v *yt.Video) clip.VideoMetadata {
	md := clip.VideoMetadata{VideoID: v.Id, BroadcastPhase: clip.PhaseNone}
	if v.Snippet != nil {
		md.Title = v.Snippet.Title
		md.ChannelID = v.Snippet.ChannelId
		if v.Snippet.LiveBroadcastContent != "" {
			md.BroadcastPhase = v.Snippet.LiveBroadcastContent
		}
		if v.Snippet.Thumbnails != nil {
			switch {
			case v.Snippet.Thumbnails.High != nil:
				md.ThumbnailURL = v.Snippet.Thumbnails.High.Url
			case v.Snippet.Thumbnails.Default != nil:
				md.ThumbnailURL = v.Snippet.Thumbnails.Default.Url
			}
		}
	}
	if md.ThumbnailURL == "" && v.Id != "" {
		md.ThumbnailURL = clip.ThumbnailURL(v.Id)
	}
	if v.Status != nil {
		md.PrivacyStatus = v.Status.PrivacyStatus
		md.CommentsRestricted = v.Status.MadeForKids
	}
	if d := v.LiveStreamingDetails; d != nil {
		md.LiveStart = parseAPITime(d.ActualStartTime)
		md.LiveEnd = parseAPITime(d.ActualEndTime)
	}
	return md
}

func parseAPITime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := clip.ParseInstant(v)
	if err != nil {
		slog.Warn("youtube: unparseable live time", slog.String("value", v), slog.Any("err", err), slog.String("component", "youtubeapi"))
		return nil
	}
	return &t
}

// isMemberRestricted probes the comment threads of videoID. Members-only
// videos refuse the listing with a forbidden reason; disabled comments are
// reported separately and are not a membership restriction.
func (c *Client) isMemberRestricted(ctx context.Context, videoID string) (bool, error) {
	svc, err := c.reader().API(ctx)
	if err != nil {
		return false, clip.NewError(clip.KindTransient, "commentThreads.list", err)
	}
	_, err = svc.CommentThreads.List([]string{"id"}).VideoId(videoID).MaxResults(1).Context(ctx).Do()
	if err == nil {
		return false, nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		for _, r := range reasons(gerr) {
			switch r {
			case "forbidden", "membersOnly", "memberOnly":
				return true, nil
			case "commentsDisabled":
				return false, nil
			}
		}
	}
	return false, Wrap("commentThreads.list", err)
}

// PostComment publishes text as a top-level comment on videoID.
func (c *Client) PostComment(ctx context.Context, videoID, text string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	svc, err := c.Writer.API(ctx)
	if err != nil {
		return clip.NewError(clip.KindTransient, "commentThreads.insert", err)
	}
	thread := &yt.CommentThread{Snippet: &yt.CommentThreadSnippet{
		VideoId:         videoID,
		TopLevelComment: &yt.Comment{Snippet: &yt.CommentSnippet{TextOriginal: text}},
	}}
	if _, err := svc.CommentThreads.Insert([]string{"snippet"}, thread).Context(ctx).Do(); err != nil {
		return Wrap("commentThreads.insert", err)
	}
	return nil
}

// StreamRef is one search hit for a channel broadcast.
type StreamRef struct {
	VideoID     string
	Title       string
	EventType   string
	PublishedAt *time.Time
}

// ChannelTitle resolves a channel id to its display title.
func (c *Client) ChannelTitle(ctx context.Context, channelID string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	svc, err := c.reader().API(ctx)
	if err != nil {
		return "", clip.NewError(clip.KindTransient, "channels.list", err)
	}
	res, err := svc.Channels.List([]string{"snippet"}).Id(channelID).Context(ctx).Do()
	if err != nil {
		return "", Wrap("channels.list", err)
	}
	if len(res.Items) == 0 || res.Items[0].Snippet == nil {
		return "", clip.NewError(clip.KindData, "channels.list", fmt.Errorf("channel %s not found", channelID))
	}
	return res.Items[0].Snippet.Title, nil
}

// SearchStreams returns up to max videos of channelID for the first event
// type (live, upcoming, completed) that has any. Per-type failures are logged
// and the next type is tried.
func (c *Client) SearchStreams(ctx context.Context, channelID string, max int64) ([]StreamRef, error) {
	if max <= 0 {
		max = 5
	}
	svc, err := c.reader().API(ctx)
	if err != nil {
		return nil, clip.NewError(clip.KindTransient, "search.list", err)
	}
	var lastErr error
	for _, eventType := range []string{"live", "upcoming", "completed"} {
		cctx, cancel := c.withTimeout(ctx)
		res, err := svc.Search.List([]string{"snippet"}).
			ChannelId(channelID).
			Type("video").
			EventType(eventType).
			Order("date").
			MaxResults(max).
			Context(cctx).Do()
		cancel()
		if err != nil {
			lastErr = Wrap("search.list", err)
			if clip.KindOf(lastErr) == clip.KindQuota {
				return nil, lastErr
			}
			slog.Debug("youtube: search failed", slog.String("event_type", eventType), slog.Any("err", err), slog.String("component", "youtubeapi"))
			continue
		}
		var out []StreamRef
		for _, item := range res.Items {
			if item.Id == nil || item.Id.VideoId == "" {
				continue
			}
			ref := StreamRef{VideoID: item.Id.VideoId, EventType: eventType}
			if item.Snippet != nil {
				ref.Title = item.Snippet.Title
				ref.PublishedAt = parseAPITime(item.Snippet.PublishedAt)
			}
			out = append(out, ref)
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, lastErr
}

// NewPlatform builds the client used by the server and the reconcile job.
// Writes go through the stored OAuth token; reads use YT_API_KEY when set so
// metadata polling does not depend on the commenting account.
func NewPlatform(ctx context.Context, cfg *config.Config, writer ServiceSource) (*Client, error) {
	c := NewClient(writer, cfg.ExternalTimeout)
	if cfg.YTAPIKey != "" {
		reader, err := NewAPIKeySource(ctx, cfg.YTAPIKey)
		if err != nil {
			return nil, fmt.Errorf("youtube api key client: %w", err)
		}
		c.Reader = reader
	}
	return c, nil
}
