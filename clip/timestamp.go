package clip

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ZeroTimestamp is returned whenever an elapsed time cannot be computed.
const ZeroTimestamp = "00:00"

// ElapsedSeconds returns whole seconds between start and event-delay, clamped at zero.
func ElapsedSeconds(start, event time.Time, delaySeconds int) int64 {
	adjusted := event.Add(-time.Duration(delaySeconds) * time.Second)
	secs := int64(adjusted.Sub(start) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// FormatSeconds renders secs as MM:SS below one hour and HH:MM:SS otherwise.
func FormatSeconds(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// FormatElapsed is FormatSeconds(ElapsedSeconds(start, event, delaySeconds)).
// A zero start or event yields ZeroTimestamp.
func FormatElapsed(start, event time.Time, delaySeconds int) string {
	if start.IsZero() || event.IsZero() {
		slog.Warn("timestamp: missing instant", slog.Time("start", start), slog.Time("event", event), slog.String("component", "timestamp"))
		return ZeroTimestamp
	}
	return FormatSeconds(ElapsedSeconds(start, event, delaySeconds))
}

// FormatElapsedRaw parses both instants and formats the elapsed time. Parse
// failures are logged and produce ZeroTimestamp.
func FormatElapsedRaw(start, event string, delaySeconds int) string {
	st, err := ParseInstant(start)
	if err != nil {
		slog.Warn("timestamp: unparseable stream start", slog.String("value", start), slog.Any("err", err), slog.String("component", "timestamp"))
		return ZeroTimestamp
	}
	et, err := ParseInstant(event)
	if err != nil {
		slog.Warn("timestamp: unparseable event instant", slog.String("value", event), slog.Any("err", err), slog.String("component", "timestamp"))
		return ZeroTimestamp
	}
	return FormatElapsed(st, et, delaySeconds)
}

var instantLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// ParseInstant accepts RFC3339 and ISO-8601 strings with or without a zone.
// Zone-less values are taken as UTC.
func ParseInstant(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty instant")
	}
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised instant %q", v)
}
