package annotate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/onnwee/tsnip/clip"
)

func TestDecide(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	tests := []struct {
		name     string
		md       clip.VideoMetadata
		eligible bool
		reason   Reason
	}{
		{"live wins over everything", clip.VideoMetadata{BroadcastPhase: clip.PhaseLive, PrivacyStatus: "public", IsMemberRestricted: true, CommentsRestricted: true}, false, ReasonStillLive},
		{"upcoming", clip.VideoMetadata{BroadcastPhase: clip.PhaseUpcoming, PrivacyStatus: "public"}, false, ReasonStillLive},
		{"started without end", clip.VideoMetadata{BroadcastPhase: clip.PhaseNone, PrivacyStatus: "public", LiveStart: &start}, false, ReasonStillLive},
		{"member restricted", clip.VideoMetadata{BroadcastPhase: clip.PhaseNone, PrivacyStatus: "public", LiveStart: &start, LiveEnd: &end, IsMemberRestricted: true}, false, ReasonMemberOnly},
		{"member restricted beats private", clip.VideoMetadata{BroadcastPhase: clip.PhaseNone, PrivacyStatus: "private", IsMemberRestricted: true}, false, ReasonMemberOnly},
		{"private", clip.VideoMetadata{BroadcastPhase: clip.PhaseNone, PrivacyStatus: "private"}, false, ReasonNotReady},
		{"comments restricted", clip.VideoMetadata{BroadcastPhase: clip.PhaseNone, PrivacyStatus: "public", CommentsRestricted: true}, false, ReasonNotReady},
		{"unlisted eligible", clip.VideoMetadata{BroadcastPhase: clip.PhaseNone, PrivacyStatus: "unlisted"}, true, ReasonEligible},
		{"public ended eligible", clip.VideoMetadata{BroadcastPhase: clip.PhaseNone, PrivacyStatus: "public", LiveStart: &start, LiveEnd: &end}, true, ReasonEligible},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.md)
			assert.Equal(t, tt.eligible, got.Eligible)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestClassifyTransportErrorIsNotReady(t *testing.T) {
	p := newFakePlatform()
	p.metaErr["v1"] = clip.NewError(clip.KindTransient, "videos.list", errors.New("timeout"))
	c := &Classifier{Source: p, Timeout: time.Second}

	got := c.Classify(context.Background(), "v1")
	assert.False(t, got.Eligible)
	assert.Equal(t, ReasonNotReady, got.Reason)
	assert.Error(t, got.Err)

	// even a terminal-looking error never becomes member_only or eligible
	p.metaErr["v1"] = clip.NewError(clip.KindTerminalSkip, "videos.list", errors.New("forbidden"))
	got = c.Classify(context.Background(), "v1")
	assert.Equal(t, ReasonNotReady, got.Reason)
}
