package annotate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/onnwee/tsnip/clip"
	"github.com/onnwee/tsnip/telemetry"
)

// DefaultMaxLength is a conservative ceiling below the platform's comment limit.
const DefaultMaxLength = 9000

const (
	trailer = "\n\nThank you for using Tsnip."
	// anonymous replaces user names that are empty after cleaning.
	anonymous = "anonymous"
)

// EventSource lists the clip events of a chat group.
type EventSource interface {
	ListEventsForGroup(ctx context.Context, chatGroupID string) ([]clip.Event, error)
}

// Aggregate is one rendered comment body.
type Aggregate struct {
	Body      string
	Lines     int // lines rendered into Body
	Truncated int // lines dropped by the length limit
	Skipped   int // events dropped as invalid
}

// Aggregator renders all events of a stream into one comment.
type Aggregator struct {
	Events    EventSource
	MaxLength int
}

// Aggregate loads the events of rec's chat group and renders them relative to
// start. ok is false when there is nothing to post.
func (a *Aggregator) Aggregate(ctx context.Context, rec clip.StreamRecord, start time.Time) (Aggregate, bool, error) {
	events, err := a.Events.ListEventsForGroup(ctx, rec.ChatGroupID)
	if err != nil {
		return Aggregate{}, false, fmt.Errorf("aggregate %s: %w", rec.ChatGroupID, err)
	}
	agg, ok := Render(ctx, rec.Title, start, events, a.MaxLength)
	return agg, ok, nil
}

type line struct {
	elapsed int64
	text    string
}

// Render builds the comment body. Invalid events are skipped with a warning;
// lines are ordered by elapsed time, stable for ties.
func Render(ctx context.Context, title string, start time.Time, events []clip.Event, maxLength int) (Aggregate, bool) {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "aggregator"))
	var agg Aggregate
	if start.IsZero() {
		log.Warn("stream start unknown, nothing to render", slog.Int("events", len(events)))
		agg.Skipped = len(events)
		return agg, false
	}
	lines := make([]line, 0, len(events))
	for _, ev := range events {
		if ev.DelaySeconds < 0 || ev.SubmittedAt.IsZero() {
			log.Warn("skipping invalid clip event", slog.String("event_id", ev.ID), slog.Int("delay", ev.DelaySeconds), slog.Time("submitted_at", ev.SubmittedAt))
			agg.Skipped++
			continue
		}
		secs := clip.ElapsedSeconds(start, ev.SubmittedAt, ev.DelaySeconds)
		lines = append(lines, line{elapsed: secs, text: renderLine(clip.FormatSeconds(secs), ev)})
	}
	if len(lines) == 0 {
		return agg, false
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].elapsed < lines[j].elapsed })

	header := "Timestamps:\n\n"
	if t := strings.TrimSpace(title); t != "" {
		header = "Timestamps of " + t + ":\n\n"
	}
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.text
	}

	full := header + strings.Join(texts, "\n") + trailer
	if utf8.RuneCountInString(full) <= maxLength {
		agg.Body, agg.Lines = full, len(texts)
		return agg, true
	}

	// Keep the longest prefix of whole lines such that
	// header + lines + notice + trailer fits in maxLength runes.
	used := utf8.RuneCountInString(header) + utf8.RuneCountInString(trailer)
	keep := 0
	for i, t := range texts {
		n := utf8.RuneCountInString(t)
		if i > 0 {
			n++ // newline separator
		}
		notice := truncationNotice(len(texts) - (i + 1))
		if used+n+utf8.RuneCountInString(notice) > maxLength {
			break
		}
		used += n
		keep = i + 1
	}
	dropped := len(texts) - keep
	agg.Body = header + strings.Join(texts[:keep], "\n") + truncationNotice(dropped) + trailer
	agg.Lines, agg.Truncated = keep, dropped
	log.Info("comment truncated", slog.Int("kept", keep), slog.Int("dropped", dropped))
	return agg, true
}

func renderLine(ts string, ev clip.Event) string {
	user := clip.CleanUser(ev.UserName)
	if user == "" {
		user = anonymous
	}
	if msg := clip.CleanMessage(ev.Message); msg != "" {
		return ts + " – _" + msg + "_ (by " + user + ")"
	}
	return ts + " – (by " + user + ")"
}

func truncationNotice(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf("\n\n[...] %d more timestamps truncated.", n)
}
