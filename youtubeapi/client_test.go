package youtubeapi_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/onnwee/tsnip/clip"
	"github.com/onnwee/tsnip/testutil"
	"github.com/onnwee/tsnip/youtubeapi"
)

func newClient(t *testing.T, m *testutil.MockYouTubeServer) *youtubeapi.Client {
	t.Helper()
	return youtubeapi.NewClient(youtubeapi.StaticSource{Svc: m.Service(t)}, 5*time.Second)
}

func TestGetVideoMetadata_Ended(t *testing.T) {
	m := testutil.NewMockYouTubeServer(t)
	start := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)
	m.MockVideos(testutil.VideoFixture{ID: "v1", Title: "Ranked grind", ChannelID: "UC1", Phase: "none", Privacy: "public", Start: start, End: start.Add(2 * time.Hour)})
	m.MockCommentProbe(http.StatusOK, "")

	md, err := newClient(t, m).GetVideoMetadata(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, "Ranked grind", md.Title)
	assert.Equal(t, "public", md.PrivacyStatus)
	assert.Equal(t, clip.PhaseNone, md.BroadcastPhase)
	require.NotNil(t, md.LiveStart)
	assert.True(t, md.LiveStart.Equal(start))
	require.NotNil(t, md.LiveEnd)
	assert.False(t, md.IsMemberRestricted)
	assert.Equal(t, clip.ThumbnailURL("v1"), md.ThumbnailURL)
}

func TestGetVideoMetadata_MembersOnlyProbe(t *testing.T) {
	m := testutil.NewMockYouTubeServer(t)
	m.MockVideos(testutil.VideoFixture{ID: "v2", Phase: "none", Privacy: "public"})
	m.MockCommentProbe(http.StatusForbidden, "forbidden")

	md, err := newClient(t, m).GetVideoMetadata(context.Background(), "v2")
	require.NoError(t, err)
	assert.True(t, md.IsMemberRestricted)
}

func TestGetVideoMetadata_CommentsDisabledIsNotMembership(t *testing.T) {
	m := testutil.NewMockYouTubeServer(t)
	m.MockVideos(testutil.VideoFixture{ID: "v3", Phase: "none", Privacy: "public"})
	m.MockCommentProbe(http.StatusForbidden, "commentsDisabled")

	md, err := newClient(t, m).GetVideoMetadata(context.Background(), "v3")
	require.NoError(t, err)
	assert.False(t, md.IsMemberRestricted)
}

func TestGetVideoMetadata_LiveSkipsProbe(t *testing.T) {
	m := testutil.NewMockYouTubeServer(t)
	m.MockVideos(testutil.VideoFixture{ID: "v4", Phase: "live", Privacy: "public", Start: time.Now().Add(-time.Hour)})
	// no probe handler registered: a probe would 404 and surface as an error

	md, err := newClient(t, m).GetVideoMetadata(context.Background(), "v4")
	require.NoError(t, err)
	assert.Equal(t, clip.PhaseLive, md.BroadcastPhase)
}

func TestGetVideoMetadata_NotFound(t *testing.T) {
	m := testutil.NewMockYouTubeServer(t)
	m.MockVideos()

	_, err := newClient(t, m).GetVideoMetadata(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, youtubeapi.ErrVideoNotFound)
	assert.Equal(t, clip.KindTransient, clip.KindOf(err))
}

func TestPostComment(t *testing.T) {
	m := testutil.NewMockYouTubeServer(t)
	m.MockCommentInsert(http.StatusOK, "")

	require.NoError(t, newClient(t, m).PostComment(context.Background(), "v1", "00:10 – (by B)"))
	assert.EqualValues(t, 1, m.CommentInserts.Load())
	assert.Equal(t, "00:10 – (by B)", m.LastComment.Load())
}

func TestPostComment_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		status int
		reason string
		want   clip.ErrorKind
	}{
		{http.StatusForbidden, "quotaExceeded", clip.KindQuota},
		{http.StatusForbidden, "commentsDisabled", clip.KindTerminalSkip},
		{http.StatusForbidden, "insufficientPermissions", clip.KindTerminalSkip},
		{http.StatusInternalServerError, "backendError", clip.KindTransient},
		{http.StatusTooManyRequests, "rateLimitExceeded", clip.KindTransient},
		{http.StatusForbidden, "rateLimitExceeded", clip.KindTransient},
		{http.StatusForbidden, "userRateLimitExceeded", clip.KindTransient},
		{http.StatusForbidden, "commentsRateLimit", clip.KindTransient},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.status, tt.reason), func(t *testing.T) {
			m := testutil.NewMockYouTubeServer(t)
			m.MockCommentInsert(tt.status, tt.reason)
			err := newClient(t, m).PostComment(context.Background(), "v1", "x")
			require.Error(t, err)
			assert.Equal(t, tt.want, clip.KindOf(err))
		})
	}
}

func TestSearchStreams_FallsThroughEventTypes(t *testing.T) {
	m := testutil.NewMockYouTubeServer(t)
	m.MockSearch(map[string][][2]string{
		"completed": {{"old1", "Yesterday"}, {"old2", "Last week"}},
	})

	refs, err := newClient(t, m).SearchStreams(context.Background(), "UC1", 5)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "completed", refs[0].EventType)
	assert.Equal(t, "old1", refs[0].VideoID)
	require.NotNil(t, refs[0].PublishedAt)
	require.NotNil(t, refs[1].PublishedAt)
	assert.True(t, refs[0].PublishedAt.Equal(testutil.SearchEpoch))
	assert.True(t, refs[0].PublishedAt.After(*refs[1].PublishedAt))
}

func TestChannelTitle(t *testing.T) {
	m := testutil.NewMockYouTubeServer(t)
	m.MockChannel("UC1", "Some Streamer")

	title, err := newClient(t, m).ChannelTitle(context.Background(), "UC1")
	require.NoError(t, err)
	assert.Equal(t, "Some Streamer", title)

	_, err = newClient(t, m).ChannelTitle(context.Background(), "UC2")
	assert.Equal(t, clip.KindData, clip.KindOf(err))
}

func TestClassifyError_Fallbacks(t *testing.T) {
	assert.Equal(t, clip.KindTransient, youtubeapi.ClassifyError(context.DeadlineExceeded))
	assert.Equal(t, clip.KindQuota, youtubeapi.ClassifyError(errors.New("The request cannot be completed because you have exceeded your quota: quotaExceeded")))
	assert.Equal(t, clip.KindTerminalSkip, youtubeapi.ClassifyError(errors.New("googleapi: Error 403: Forbidden")))
	assert.Equal(t, clip.KindTransient, youtubeapi.ClassifyError(errors.New("connection reset by peer")))
	assert.Equal(t, clip.KindTerminalSkip, youtubeapi.ClassifyError(&googleapi.Error{Code: http.StatusForbidden}))
	assert.Equal(t, clip.KindTransient, youtubeapi.ClassifyError(errors.New("googleapi: Error 403: rateLimitExceeded")))
}

func TestWrap_RateLimitedCommentStaysTransient(t *testing.T) {
	for _, reason := range []string{"rateLimitExceeded", "userRateLimitExceeded"} {
		err := youtubeapi.Wrap("commentThreads.insert", &googleapi.Error{
			Code:   http.StatusForbidden,
			Errors: []googleapi.ErrorItem{{Reason: reason}},
		})
		assert.Equal(t, clip.KindTransient, clip.KindOf(err), reason)
	}
}
