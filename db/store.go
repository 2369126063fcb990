package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/tsnip/clip"
)

// Store is the Postgres implementation of the collaborator interfaces used by
// annotate, notify, discovery and the HTTP handlers.
type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

// InsertEvent persists a clip event, assigning an id and submission time when
// the caller left them empty.
func (s *Store) InsertEvent(ctx context.Context, ev clip.Event) (clip.Event, error) {
	if ev.DelaySeconds < 0 {
		return ev, fmt.Errorf("insert event: negative delay %d", ev.DelaySeconds)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.SubmittedAt.IsZero() {
		ev.SubmittedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO clip_events (id, chat_id, channel_id, user_name, message, delay_seconds, user_timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		ev.ID, ev.ChatGroupID, ev.ChannelID, ev.UserName, ev.Message, ev.DelaySeconds, ev.SubmittedAt)
	if err != nil {
		return ev, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

// ListEventsForGroup returns every event of a chat group in submission order.
func (s *Store) ListEventsForGroup(ctx context.Context, chatGroupID string) ([]clip.Event, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, chat_id, channel_id, user_name, message, delay_seconds, user_timestamp
		FROM clip_events WHERE chat_id=$1 ORDER BY user_timestamp, created_at`, chatGroupID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []clip.Event
	for rows.Next() {
		var ev clip.Event
		if err := rows.Scan(&ev.ID, &ev.ChatGroupID, &ev.ChannelID, &ev.UserName, &ev.Message, &ev.DelaySeconds, &ev.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

const streamColumns = `id, video_id, chat_id, channel_id, title, stream_start, published_at, marked, status`

func scanStream(sc interface{ Scan(...any) error }) (clip.StreamRecord, error) {
	var (
		rec    clip.StreamRecord
		start     sql.NullTime
		published sql.NullTime
		status    string
	)
	if err := sc.Scan(&rec.RecordID, &rec.VideoID, &rec.ChatGroupID, &rec.ChannelID, &rec.Title, &start, &published, &rec.Processed, &status); err != nil {
		return rec, err
	}
	if start.Valid {
		t := start.Time
		rec.StreamStart = &t
	}
	if published.Valid {
		t := published.Time
		rec.PublishedAt = &t
	}
	rec.Status = clip.StreamStatus(status)
	return rec, nil
}

// ListUnprocessedStreams returns all records whose processed latch is unset,
// oldest first.
func (s *Store) ListUnprocessedStreams(ctx context.Context) ([]clip.StreamRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+streamColumns+` FROM yt_streams WHERE marked=FALSE ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed streams: %w", err)
	}
	defer rows.Close()
	var out []clip.StreamRecord
	for rows.Next() {
		rec, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkStreamProcessed latches processed=true with a terminal status. Rows
// already processed are left untouched.
func (s *Store) MarkStreamProcessed(ctx context.Context, recordID string, status clip.StreamStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("mark stream processed: status %q is not terminal", status)
	}
	_, err := s.DB.ExecContext(ctx, `UPDATE yt_streams SET marked=TRUE, status=$2, updated_at=NOW() WHERE id=$1 AND marked=FALSE`, recordID, string(status))
	if err != nil {
		return fmt.Errorf("mark stream processed: %w", err)
	}
	return nil
}

// InsertStream records a newly discovered stream for a chat group. It reports
// false when the (chat group, video) pair was already known.
func (s *Store) InsertStream(ctx context.Context, rec clip.StreamRecord, eventType, channelTitle string) (bool, error) {
	if rec.RecordID == "" {
		rec.RecordID = uuid.NewString()
	}
	var start, published any
	if rec.StreamStart != nil {
		start = *rec.StreamStart
	}
	if rec.PublishedAt != nil {
		published = *rec.PublishedAt
	}
	res, err := s.DB.ExecContext(ctx, `INSERT INTO yt_streams (id, chat_id, channel_id, video_id, title, event_type, channel_title, stream_start, published_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) ON CONFLICT (chat_id, video_id) DO NOTHING`,
		rec.RecordID, rec.ChatGroupID, rec.ChannelID, rec.VideoID, rec.Title, eventType, channelTitle, start, published)
	if err != nil {
		return false, fmt.Errorf("insert stream: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// LatestStreamForChannel returns the most recent stream of a channel by the
// video's own start or publish time, or nil when none is known. Discovery
// inserts search hits newest first, so insertion order is not a usable key.
func (s *Store) LatestStreamForChannel(ctx context.Context, channelID string) (*clip.StreamRecord, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+streamColumns+` FROM yt_streams WHERE channel_id=$1
		ORDER BY COALESCE(stream_start, published_at, created_at) DESC, created_at DESC LIMIT 1`, channelID)
	rec, err := scanStream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest stream: %w", err)
	}
	return &rec, nil
}

// GetChannelIntegration returns the integration row for a channel, or nil.
func (s *Store) GetChannelIntegration(ctx context.Context, channelID string) (*clip.ChannelIntegration, error) {
	ci := clip.ChannelIntegration{ChannelID: channelID}
	err := s.DB.QueryRowContext(ctx, `SELECT notify_webhook, comment_template FROM channel_integrations WHERE channel_id=$1`, channelID).
		Scan(&ci.NotifyTarget, &ci.CommentTemplate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get channel integration: %w", err)
	}
	return &ci, nil
}

func (s *Store) UpsertChannelIntegration(ctx context.Context, ci clip.ChannelIntegration) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO channel_integrations (channel_id, notify_webhook, comment_template, updated_at)
		VALUES ($1,$2,$3,NOW())
		ON CONFLICT (channel_id) DO UPDATE SET notify_webhook=EXCLUDED.notify_webhook, comment_template=EXCLUDED.comment_template, updated_at=NOW()`,
		ci.ChannelID, ci.NotifyTarget, ci.CommentTemplate)
	if err != nil {
		return fmt.Errorf("upsert channel integration: %w", err)
	}
	return nil
}

// ClaimVideo takes an exclusive claim on videoID for ttl. It succeeds when no
// claim exists, the existing claim expired, or owner already holds it.
func (s *Store) ClaimVideo(ctx context.Context, videoID, owner string, ttl time.Duration) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `INSERT INTO stream_claims (video_id, owner, claimed_until)
		VALUES ($1, $2, NOW() + make_interval(secs => $3::double precision))
		ON CONFLICT (video_id) DO UPDATE SET owner=EXCLUDED.owner, claimed_until=EXCLUDED.claimed_until
		WHERE stream_claims.claimed_until < NOW() OR stream_claims.owner = EXCLUDED.owner`,
		videoID, owner, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("claim video: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReleaseVideo drops a claim held by owner.
func (s *Store) ReleaseVideo(ctx context.Context, videoID, owner string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM stream_claims WHERE video_id=$1 AND owner=$2`, videoID, owner); err != nil {
		return fmt.Errorf("release video: %w", err)
	}
	return nil
}

// StreamCounts returns the number of stream records per status.
func (s *Store) StreamCounts(ctx context.Context) (map[clip.StreamStatus]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM yt_streams GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("stream counts: %w", err)
	}
	defer rows.Close()
	out := map[clip.StreamStatus]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[clip.StreamStatus(status)] = n
	}
	return out, rows.Err()
}

func (s *Store) SetKV(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO kv (key, value, updated_at) VALUES ($1,$2,NOW())
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key, value)
	return err
}

// GetKV returns the value for key, or "" when unset.
func (s *Store) GetKV(ctx context.Context, key string) (string, error) {
	var v sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v.String, err
}
