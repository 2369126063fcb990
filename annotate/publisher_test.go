package annotate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/onnwee/tsnip/clip"
)

// scriptedClassifier returns the queued classifications in order; the last repeats.
type scriptedClassifier struct {
	seq   []Classification
	calls int
}

func (s *scriptedClassifier) Classify(context.Context, string) Classification {
	i := s.calls
	s.calls++
	if i >= len(s.seq) {
		i = len(s.seq) - 1
	}
	return s.seq[i]
}

var (
	eligible   = Classification{Eligible: true, Reason: ReasonEligible}
	notReady   = Classification{Reason: ReasonNotReady}
	memberOnly = Classification{Reason: ReasonMemberOnly}
)

type sleepRecorder struct{ slept []time.Duration }

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return nil
}

func newPublisher(c StatusClassifier, p Commenter, attempts int, sr *sleepRecorder) *Publisher {
	return &Publisher{Classifier: c, Poster: p, Attempts: attempts, Backoff: time.Minute, Sleep: sr.sleep}
}

func TestPublishMemberOnlyFirstAttempt(t *testing.T) {
	plat := newFakePlatform()
	sr := &sleepRecorder{}
	p := newPublisher(&scriptedClassifier{seq: []Classification{memberOnly}}, plat, 3, sr)

	assert.Equal(t, OutcomeMemberOnly, p.Publish(context.Background(), "v1", "body"))
	assert.Empty(t, plat.posts["v1"], "no posting call attempted")
	assert.Empty(t, sr.slept)
}

func TestPublishPostsOnThirdAttempt(t *testing.T) {
	plat := newFakePlatform()
	sr := &sleepRecorder{}
	cls := &scriptedClassifier{seq: []Classification{notReady, notReady, eligible}}
	p := newPublisher(cls, plat, 3, sr)

	assert.Equal(t, OutcomePosted, p.Publish(context.Background(), "v1", "body"))
	assert.Equal(t, []string{"body"}, plat.posts["v1"])
	assert.Equal(t, 3, cls.calls)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, sr.slept)
}

func TestPublishRetryExhausted(t *testing.T) {
	plat := newFakePlatform()
	sr := &sleepRecorder{}
	cls := &scriptedClassifier{seq: []Classification{notReady, notReady, eligible}}
	p := newPublisher(cls, plat, 2, sr)

	assert.Equal(t, OutcomeRetryExhausted, p.Publish(context.Background(), "v1", "body"))
	assert.Empty(t, plat.posts["v1"])
	assert.Len(t, sr.slept, 1, "no sleep after the final attempt")
}

func TestPublishPostErrors(t *testing.T) {
	tests := []struct {
		name     string
		errs     []error
		want     Outcome
		attempts int
		posts    int
	}{
		{"forbidden is terminal skip", []error{clip.NewError(clip.KindTerminalSkip, "insert", errors.New("forbidden"))}, OutcomeMemberOnly, 3, 0},
		{"quota aborts", []error{clip.NewError(clip.KindQuota, "insert", errors.New("quotaExceeded"))}, OutcomeQuotaAbort, 3, 0},
		{"transient then ok", []error{errors.New("502"), nil}, OutcomePosted, 3, 1},
		{"transient every time", []error{errors.New("a"), errors.New("b"), errors.New("c")}, OutcomeRetryExhausted, 3, 0},
		{"data error retried", []error{clip.NewError(clip.KindData, "insert", errors.New("bad")), nil}, OutcomePosted, 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plat := newFakePlatform()
			plat.postErrs = tt.errs
			p := newPublisher(&scriptedClassifier{seq: []Classification{eligible}}, plat, tt.attempts, &sleepRecorder{})
			assert.Equal(t, tt.want, p.Publish(context.Background(), "v1", "body"))
			assert.Len(t, plat.posts["v1"], tt.posts)
		})
	}
}

func TestPublishQuotaDuringClassification(t *testing.T) {
	cls := &scriptedClassifier{seq: []Classification{{Reason: ReasonNotReady, Err: clip.NewError(clip.KindQuota, "videos.list", errors.New("quotaExceeded"))}}}
	p := newPublisher(cls, newFakePlatform(), 3, &sleepRecorder{})
	assert.Equal(t, OutcomeQuotaAbort, p.Publish(context.Background(), "v1", "body"))
	assert.Equal(t, 1, cls.calls)
}

func TestPublishCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Publisher{
		Classifier: &scriptedClassifier{seq: []Classification{notReady}},
		Poster:     newFakePlatform(),
		Attempts:   3,
		Backoff:    time.Hour,
	}
	start := time.Now()
	assert.Equal(t, OutcomeRetryExhausted, p.Publish(ctx, "v1", "body"))
	assert.Less(t, time.Since(start), time.Second)
}

type panicCommenter struct{}

func (panicCommenter) PostComment(context.Context, string, string) error { panic("nil map") }

func TestPublishNeverPanics(t *testing.T) {
	p := newPublisher(&scriptedClassifier{seq: []Classification{eligible}}, panicCommenter{}, 3, &sleepRecorder{})
	assert.NotPanics(t, func() {
		assert.Equal(t, OutcomeRetryExhausted, p.Publish(context.Background(), "v1", "body"))
	})
}
