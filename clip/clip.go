// Package clip holds the domain types shared by ingestion, reconciliation and
// notification: clip events, stream records, channel integrations and the
// video metadata snapshot used to decide whether a stream can be annotated.
package clip

import (
	"strconv"
	"time"
)

// Event is one user-submitted marker. DelaySeconds moves the moment of
// interest back from SubmittedAt.
type Event struct {
	ID           string
	ChatGroupID  string
	ChannelID    string
	UserName     string
	Message      string
	DelaySeconds int
	SubmittedAt  time.Time
}

// StreamStatus narrates why a stream record was latched as processed.
type StreamStatus string

const (
	StatusPending    StreamStatus = "pending"
	StatusEnded      StreamStatus = "ended"
	StatusMemberOnly StreamStatus = "member_only"
	StatusFailed     StreamStatus = "failed"
)

// Terminal reports whether s may only be written together with processed=true.
func (s StreamStatus) Terminal() bool {
	switch s {
	case StatusEnded, StatusMemberOnly, StatusFailed:
		return true
	}
	return false
}

// StreamRecord is a broadcast awaiting annotation.
type StreamRecord struct {
	RecordID    string
	VideoID     string
	ChatGroupID string
	ChannelID   string
	Title       string
	StreamStart *time.Time
	// PublishedAt is when the platform first listed the video; it orders
	// records whose stream has not started yet.
	PublishedAt *time.Time
	Processed   bool
	Status      StreamStatus
}

// ChannelIntegration maps a channel to an optional notification target and an
// optional ingestion reply template.
type ChannelIntegration struct {
	ChannelID       string
	NotifyTarget    string
	CommentTemplate string
}

// Broadcast phases as reported by the platform.
const (
	PhaseLive     = "live"
	PhaseUpcoming = "upcoming"
	PhaseNone     = "none"
)

// VideoMetadata is the subset of platform metadata the classifier needs.
type VideoMetadata struct {
	VideoID            string
	Title              string
	ChannelID          string
	PrivacyStatus      string
	CommentsRestricted bool
	BroadcastPhase     string
	LiveStart          *time.Time
	LiveEnd            *time.Time
	IsMemberRestricted bool
	ThumbnailURL       string
}

// WatchURL returns the short link for videoID, starting at offset seconds when
// offset is positive.
func WatchURL(videoID string, offset int64) string {
	u := "https://youtu.be/" + videoID
	if offset > 0 {
		u += "?t=" + strconv.FormatInt(offset, 10)
	}
	return u
}

// ThumbnailURL returns the default high-quality thumbnail for videoID.
func ThumbnailURL(videoID string) string {
	return "https://i.ytimg.com/vi/" + videoID + "/hqdefault.jpg"
}
