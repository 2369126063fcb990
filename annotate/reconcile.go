package annotate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/onnwee/tsnip/clip"
	"github.com/onnwee/tsnip/telemetry"
)

// StreamStore is the persistence the loop needs.
type StreamStore interface {
	ListUnprocessedStreams(ctx context.Context) ([]clip.StreamRecord, error)
	ListEventsForGroup(ctx context.Context, chatGroupID string) ([]clip.Event, error)
	MarkStreamProcessed(ctx context.Context, recordID string, status clip.StreamStatus) error
}

// Claimer is implemented by stores that can hold a short exclusive claim on a
// video so overlapping scans do not post twice.
type Claimer interface {
	ClaimVideo(ctx context.Context, videoID, owner string, ttl time.Duration) (bool, error)
	ReleaseVideo(ctx context.Context, videoID, owner string) error
}

// kvWriter is implemented by stores that record the last run.
type kvWriter interface {
	SetKV(ctx context.Context, key, value string) error
}

// VideoPlatform is the video host.
type VideoPlatform interface {
	MetadataSource
	Commenter
}

// Summary counts what one scan did. Err is set when the scan could not list
// records or was cancelled.
type Summary struct {
	Scanned    int   `json:"scanned"`
	Posted     int   `json:"posted"`
	MemberOnly int   `json:"member_only"`
	Skipped    int   `json:"skipped"`
	Failed     int   `json:"failed"`
	Aborted    bool  `json:"aborted"`
	Err        error `json:"-"`
}

// Processed is the number of records latched by this scan.
func (s Summary) Processed() int { return s.Posted + s.MemberOnly }

// Options tunes a Reconciler. Zero values take the defaults.
type Options struct {
	Attempts        int
	Backoff         time.Duration
	MaxLength       int
	ItemPause       time.Duration
	ExternalTimeout time.Duration
	ClaimTTL        time.Duration
	Sleep           SleepFunc
}

// LastRunKey is the kv key holding the time of the last completed scan.
const LastRunKey = "job_reconcile_last"

// Reconciler runs one sequential scan over all unprocessed stream records.
type Reconciler struct {
	store      StreamStore
	claimer    Claimer
	classifier StatusClassifier
	aggregator *Aggregator
	publisher  *Publisher
	itemPause  time.Duration
	claimTTL   time.Duration
}

// NewReconciler wires the classifier, aggregator and publisher. When store
// also implements Claimer, every record is claimed before classification.
func NewReconciler(store StreamStore, platform VideoPlatform, opts Options) *Reconciler {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 10 * time.Minute
	}
	classifier := &Classifier{Source: platform, Timeout: opts.ExternalTimeout}
	r := &Reconciler{
		store:      store,
		classifier: classifier,
		aggregator: &Aggregator{Events: store, MaxLength: opts.MaxLength},
		publisher: &Publisher{
			Classifier: classifier,
			Poster:     platform,
			Attempts:   opts.Attempts,
			Backoff:    opts.Backoff,
			Sleep:      opts.Sleep,
		},
		itemPause: opts.ItemPause,
		claimTTL:  opts.ClaimTTL,
	}
	if c, ok := store.(Claimer); ok {
		r.claimer = c
	}
	return r
}

type itemResult int

const (
	itemSkipped itemResult = iota
	itemPosted
	itemMemberOnly
	itemFailed
	itemAbort
)

// Run performs one full scan and always returns a summary.
func (r *Reconciler) Run(ctx context.Context) Summary {
	if telemetry.GetCorrelation(ctx) == "" {
		ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	}
	ctx, span := telemetry.StartSpan(ctx, "reconcile", "reconcile.run")
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "reconcile"))
	started := time.Now()

	var sum Summary
	records, err := r.store.ListUnprocessedStreams(ctx)
	if err != nil {
		log.Error("list unprocessed streams failed", slog.Any("err", err))
		telemetry.RecordError(span, err)
		sum.Err = err
		return sum
	}
	sum.Scanned = len(records)
	log.Info("reconcile scan started", slog.Int("pending", len(records)))

	limit := rate.Inf
	if r.itemPause > 0 {
		limit = rate.Every(r.itemPause)
	}
	limiter := rate.NewLimiter(limit, 1)
	owner := uuid.NewString()

	for _, rec := range records {
		if err := limiter.Wait(ctx); err != nil {
			log.Warn("reconcile scan interrupted", slog.Any("err", err))
			sum.Err = err
			break
		}
		switch r.processItem(ctx, rec, owner) {
		case itemPosted:
			sum.Posted++
		case itemMemberOnly:
			sum.MemberOnly++
		case itemFailed:
			sum.Failed++
		case itemAbort:
			sum.Skipped++
			sum.Aborted = true
		default:
			sum.Skipped++
		}
		if sum.Aborted {
			log.Warn("quota exhausted, stopping scan", slog.String("video_id", rec.VideoID))
			break
		}
	}

	if kv, ok := r.store.(kvWriter); ok {
		if err := kv.SetKV(ctx, LastRunKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
			log.Debug("record last run failed", slog.Any("err", err))
		}
	}
	telemetry.RecordReconcileRun(len(records), sum.Aborted, time.Since(started))
	span.SetAttributes(
		attribute.Int("reconcile.scanned", sum.Scanned),
		attribute.Int("reconcile.posted", sum.Posted),
		attribute.Int("reconcile.failed", sum.Failed),
		attribute.Bool("reconcile.aborted", sum.Aborted),
	)
	if sum.Err == nil {
		telemetry.SetSpanSuccess(span)
	}
	log.Info("reconcile scan finished",
		slog.Int("scanned", sum.Scanned), slog.Int("posted", sum.Posted), slog.Int("member_only", sum.MemberOnly),
		slog.Int("skipped", sum.Skipped), slog.Int("failed", sum.Failed), slog.Bool("aborted", sum.Aborted),
		slog.Duration("took", time.Since(started)))
	return sum
}

// processItem handles one record. Panics are contained here so a single bad
// record cannot end the scan.
func (r *Reconciler) processItem(ctx context.Context, rec clip.StreamRecord, owner string) (res itemResult) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "reconcile"), slog.String("video_id", rec.VideoID), slog.String("record_id", rec.RecordID))
	defer func() {
		if p := recover(); p != nil {
			log.Error("record processing panicked", slog.Any("panic", p))
			telemetry.IncReconcileItemError()
			res = itemFailed
		}
	}()

	if rec.VideoID == "" {
		log.Warn("record has no video id")
		return itemSkipped
	}
	if r.claimer != nil {
		ok, err := r.claimer.ClaimVideo(ctx, rec.VideoID, owner, r.claimTTL)
		if err != nil {
			log.Warn("claim failed", slog.Any("err", err))
			return itemSkipped
		}
		if !ok {
			log.Info("video claimed by another scan")
			return itemSkipped
		}
		defer func() {
			if err := r.claimer.ReleaseVideo(context.WithoutCancel(ctx), rec.VideoID, owner); err != nil {
				log.Debug("release claim failed", slog.Any("err", err))
			}
		}()
	}

	c := r.classifier.Classify(ctx, rec.VideoID)
	switch c.Reason {
	case ReasonMemberOnly:
		return r.mark(ctx, log, rec, clip.StatusMemberOnly, itemMemberOnly)
	case ReasonEligible:
	default:
		if c.Err != nil && clip.KindOf(c.Err) == clip.KindQuota {
			return itemAbort
		}
		log.Debug("record not ready", slog.String("reason", string(c.Reason)))
		return itemSkipped
	}

	start := c.Metadata.LiveStart
	if start == nil {
		start = rec.StreamStart
	}
	if start == nil {
		log.Info("stream start unknown, leaving pending")
		return itemSkipped
	}
	if rec.Title == "" {
		rec.Title = c.Metadata.Title
	}
	agg, ok, err := r.aggregator.Aggregate(ctx, rec, *start)
	if err != nil {
		log.Warn("aggregate failed", slog.Any("err", err))
		telemetry.IncReconcileItemError()
		return itemFailed
	}
	if !ok {
		log.Debug("no clip events for stream")
		return itemSkipped
	}

	switch out := r.publisher.Publish(ctx, rec.VideoID, agg.Body); out {
	case OutcomePosted:
		return r.mark(ctx, log, rec, clip.StatusEnded, itemPosted)
	case OutcomeMemberOnly:
		return r.mark(ctx, log, rec, clip.StatusMemberOnly, itemMemberOnly)
	case OutcomeQuotaAbort:
		return itemAbort
	default:
		log.Info("publish did not complete, leaving pending", slog.String("outcome", string(out)))
		return itemFailed
	}
}

func (r *Reconciler) mark(ctx context.Context, log *slog.Logger, rec clip.StreamRecord, status clip.StreamStatus, res itemResult) itemResult {
	if err := r.store.MarkStreamProcessed(ctx, rec.RecordID, status); err != nil {
		log.Error("mark processed failed", slog.String("status", string(status)), slog.Any("err", fmt.Errorf("record %s: %w", rec.RecordID, err)))
		telemetry.IncReconcileItemError()
		return itemFailed
	}
	log.Info("stream record processed", slog.String("status", string(status)))
	return res
}
