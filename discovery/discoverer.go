package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/tsnip/clip"
	"github.com/onnwee/tsnip/telemetry"
	"github.com/onnwee/tsnip/youtubeapi"
)

// Searcher finds the broadcasts of a channel.
type Searcher interface {
	ChannelTitle(ctx context.Context, channelID string) (string, error)
	SearchStreams(ctx context.Context, channelID string, max int64) ([]youtubeapi.StreamRef, error)
}

// StreamInserter stores newly found streams.
type StreamInserter interface {
	InsertStream(ctx context.Context, rec clip.StreamRecord, eventType, channelTitle string) (bool, error)
}

// Discoverer links a chat group to its channel's live, upcoming or most
// recent broadcasts.
type Discoverer struct {
	Search     Searcher
	Store      StreamInserter
	MaxResults int64
}

// Key identifies a discovery request for deduplication.
func Key(chatGroupID, channelID string) string { return chatGroupID + "|" + channelID }

// Discover records every stream found for channelID under chatGroupID and
// returns how many were new.
func (d *Discoverer) Discover(ctx context.Context, chatGroupID, channelID string) (int, error) {
	if chatGroupID == "" || channelID == "" {
		return 0, clip.NewError(clip.KindData, "discover", fmt.Errorf("chat group and channel are required"))
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "discovery"), slog.String("chat_id", chatGroupID), slog.String("channel_id", channelID))

	title, err := d.Search.ChannelTitle(ctx, channelID)
	if err != nil {
		log.Warn("channel title lookup failed", slog.Any("err", err))
	}
	refs, err := d.Search.SearchStreams(ctx, channelID, d.MaxResults)
	if err != nil {
		return 0, fmt.Errorf("search streams: %w", err)
	}
	inserted := 0
	for _, ref := range refs {
		ok, err := d.Store.InsertStream(ctx, clip.StreamRecord{
			VideoID:     ref.VideoID,
			ChatGroupID: chatGroupID,
			ChannelID:   channelID,
			Title:       ref.Title,
			PublishedAt: ref.PublishedAt,
			Status:      clip.StatusPending,
		}, ref.EventType, title)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
			telemetry.IncDiscovery("inserted")
			log.Info("stream discovered", slog.String("video_id", ref.VideoID), slog.String("event_type", ref.EventType))
		}
	}
	if len(refs) == 0 {
		log.Info("no streams found for channel")
	}
	return inserted, nil
}

// Task wraps Discover for the Scheduler.
func (d *Discoverer) Task(chatGroupID, channelID string) Task {
	return func(ctx context.Context) error {
		_, err := d.Discover(ctx, chatGroupID, channelID)
		return err
	}
}
