package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/tsnip/annotate"
	"github.com/onnwee/tsnip/clip"
	"github.com/onnwee/tsnip/discovery"
	"github.com/onnwee/tsnip/notify"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
)

// Store is the persistence the handlers need; *db.Store satisfies it.
type Store interface {
	InsertEvent(ctx context.Context, ev clip.Event) (clip.Event, error)
	StreamCounts(ctx context.Context) (map[clip.StreamStatus]int, error)
	GetKV(ctx context.Context, key string) (string, error)
	GetChannelIntegration(ctx context.Context, channelID string) (*clip.ChannelIntegration, error)
	UpsertChannelIntegration(ctx context.Context, ci clip.ChannelIntegration) error
}

// Reconciler runs one reconciliation scan.
type Reconciler interface {
	Run(ctx context.Context) annotate.Summary
}

// Notifier sends the side-channel notification for a new event.
type Notifier interface {
	Dispatch(ctx context.Context, ev clip.Event) notify.Result
}

// Scheduler queues keyed background work; *discovery.Scheduler satisfies it.
type Scheduler interface {
	Schedule(key string, task discovery.Task) (bool, error)
}

// TaskSource builds discovery tasks; *discovery.Discoverer satisfies it.
type TaskSource interface {
	Task(chatGroupID, channelID string) discovery.Task
}

// Templates resolves the reply template of a channel.
type Templates interface {
	Template(ctx context.Context, channelID string) string
}

// OAuthFlow is the authorization code flow of the commenting account.
type OAuthFlow interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// Deps wires the handlers. Nil optional collaborators disable the feature
// that needs them.
type Deps struct {
	DB         *sql.DB
	Store      Store
	Reconciler Reconciler
	Notifier   Notifier
	Scheduler  Scheduler
	Discovery  TaskSource
	Templates  Templates
	OAuth      OAuthFlow

	CronSecret   string
	DefaultDelay int
	ToolName     string
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps

	stateStore map[string]time.Time
	stateMu    sync.RWMutex

	// reconcileMu serialises trigger calls within this process.
	reconcileMu sync.Mutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		deps:       deps,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states. Callers hold stateMu.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState records a pending OAuth state. It reports false when the
// store is full even after cleanup.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState validates and removes state.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && time.Now().Before(exp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err), slog.String("component", "http"))
	}
}
