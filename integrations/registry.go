package integrations

import (
	"context"
	"log/slog"

	"github.com/onnwee/tsnip/clip"
)

// Source is a lookup of stored integrations, e.g. *db.Store.
type Source interface {
	GetChannelIntegration(ctx context.Context, channelID string) (*clip.ChannelIntegration, error)
}

// Registry merges the database with the static file. Non-empty database
// fields override the file.
type Registry struct {
	DB     Source
	Static map[string]clip.ChannelIntegration
}

func (r *Registry) GetChannelIntegration(ctx context.Context, channelID string) (*clip.ChannelIntegration, error) {
	var out *clip.ChannelIntegration
	if st, ok := r.Static[channelID]; ok {
		out = &st
	}
	if r.DB == nil {
		return out, nil
	}
	row, err := r.DB.GetChannelIntegration(ctx, channelID)
	if err != nil {
		if out != nil {
			slog.Warn("integration lookup failed, using static entry", slog.String("channel_id", channelID), slog.Any("err", err), slog.String("component", "integrations"))
			return out, nil
		}
		return nil, err
	}
	if row == nil {
		return out, nil
	}
	if out == nil {
		return row, nil
	}
	merged := *out
	if row.NotifyTarget != "" {
		merged.NotifyTarget = row.NotifyTarget
	}
	if row.CommentTemplate != "" {
		merged.CommentTemplate = row.CommentTemplate
	}
	return &merged, nil
}

// Template returns the reply template of a channel, or DefaultTemplate.
func (r *Registry) Template(ctx context.Context, channelID string) string {
	if channelID == "" {
		return DefaultTemplate
	}
	ci, err := r.GetChannelIntegration(ctx, channelID)
	if err != nil || ci == nil || ci.CommentTemplate == "" {
		return DefaultTemplate
	}
	return ci.CommentTemplate
}
