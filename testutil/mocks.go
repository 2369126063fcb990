package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// MockYouTubeServer fakes the YouTube Data API v3 endpoints used by tsnip.
type MockYouTubeServer struct {
	*httptest.Server

	mu       sync.Mutex
	Handlers map[string]http.HandlerFunc

	CommentInserts atomic.Int32
	LastComment    atomic.Value // string
}

// NewMockYouTubeServer creates a new mock YouTube API server.
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	m := &MockYouTubeServer{Handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		m.mu.Lock()
		h, ok := m.Handlers[key]
		m.mu.Unlock()
		if ok {
			h(w, r)
			return
		}
		WriteAPIError(w, http.StatusNotFound, "notFound")
	}))
	t.Cleanup(m.Close)
	return m
}

// Service returns an unauthenticated client pointed at the mock.
func (m *MockYouTubeServer) Service(t *testing.T) *yt.Service {
	t.Helper()
	svc, err := yt.NewService(context.Background(), option.WithEndpoint(m.URL+"/"), option.WithHTTPClient(m.Client()))
	if err != nil {
		t.Fatalf("youtube service: %v", err)
	}
	return svc
}

func (m *MockYouTubeServer) handle(method, path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[method+" "+path] = h
}

// VideoFixture describes a videos.list item.
type VideoFixture struct {
	ID          string
	Title       string
	ChannelID   string
	Phase       string // live | upcoming | none
	Privacy     string
	MadeForKids bool
	Start, End  time.Time
}

// MockVideos answers videos.list with the given fixtures, matched by id.
func (m *MockYouTubeServer) MockVideos(videos ...VideoFixture) {
	byID := map[string]VideoFixture{}
	for _, v := range videos {
		byID[v.ID] = v
	}
	m.handle(http.MethodGet, "/youtube/v3/videos", func(w http.ResponseWriter, r *http.Request) {
		items := []map[string]any{}
		if v, ok := byID[r.URL.Query().Get("id")]; ok {
			live := map[string]any{}
			if !v.Start.IsZero() {
				live["actualStartTime"] = v.Start.UTC().Format(time.RFC3339)
			}
			if !v.End.IsZero() {
				live["actualEndTime"] = v.End.UTC().Format(time.RFC3339)
			}
			item := map[string]any{
				"id": v.ID,
				"snippet": map[string]any{
					"title":                v.Title,
					"channelId":            v.ChannelID,
					"liveBroadcastContent": v.Phase,
				},
				"status": map[string]any{"privacyStatus": v.Privacy, "madeForKids": v.MadeForKids},
			}
			if len(live) > 0 {
				item["liveStreamingDetails"] = live
			}
			items = append(items, item)
		}
		writeJSON(w, map[string]any{"items": items})
	})
}

// MockCommentProbe makes commentThreads.list succeed (reason "") or fail
// with the given status and reason.
func (m *MockYouTubeServer) MockCommentProbe(status int, reason string) {
	m.handle(http.MethodGet, "/youtube/v3/commentThreads", func(w http.ResponseWriter, r *http.Request) {
		if reason != "" {
			WriteAPIError(w, status, reason)
			return
		}
		writeJSON(w, map[string]any{"items": []any{}})
	})
}

// MockCommentInsert answers commentThreads.insert; a non-empty reason fails it.
func (m *MockYouTubeServer) MockCommentInsert(status int, reason string) {
	m.handle(http.MethodPost, "/youtube/v3/commentThreads", func(w http.ResponseWriter, r *http.Request) {
		m.CommentInserts.Add(1)
		var body struct {
			Snippet struct {
				VideoID         string `json:"videoId"`
				TopLevelComment struct {
					Snippet struct {
						TextOriginal string `json:"textOriginal"`
					} `json:"snippet"`
				} `json:"topLevelComment"`
			} `json:"snippet"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // test mock
		m.LastComment.Store(body.Snippet.TopLevelComment.Snippet.TextOriginal)
		if reason != "" {
			WriteAPIError(w, status, reason)
			return
		}
		writeJSON(w, map[string]any{"id": "thread-1", "snippet": body.Snippet})
	})
}

// MockChannel answers channels.list with a single channel.
func (m *MockYouTubeServer) MockChannel(channelID, title string) {
	m.handle(http.MethodGet, "/youtube/v3/channels", func(w http.ResponseWriter, r *http.Request) {
		items := []map[string]any{}
		if r.URL.Query().Get("id") == channelID {
			items = append(items, map[string]any{"id": channelID, "snippet": map[string]any{"title": title}})
		}
		writeJSON(w, map[string]any{"items": items})
	})
}

// SearchEpoch is the publish time of the first hit of every MockSearch
// result list; later hits are one day older each, as with order=date.
var SearchEpoch = time.Date(2025, 1, 10, 20, 0, 0, 0, time.UTC)

// MockSearch answers search.list keyed by eventType with (videoID, title) pairs.
func (m *MockYouTubeServer) MockSearch(results map[string][][2]string) {
	m.handle(http.MethodGet, "/youtube/v3/search", func(w http.ResponseWriter, r *http.Request) {
		items := []map[string]any{}
		for i, hit := range results[r.URL.Query().Get("eventType")] {
			published := SearchEpoch.Add(-time.Duration(i) * 24 * time.Hour)
			items = append(items, map[string]any{
				"id":      map[string]any{"kind": "youtube#video", "videoId": hit[0]},
				"snippet": map[string]any{"title": hit[1], "publishedAt": published.Format(time.RFC3339)},
			})
		}
		writeJSON(w, map[string]any{"items": items})
	})
}

// WriteAPIError writes a Google API style error body.
func WriteAPIError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock
		"error": map[string]any{
			"code":    status,
			"message": reason,
			"errors":  []map[string]any{{"reason": reason, "message": reason, "domain": "youtube.api"}},
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
