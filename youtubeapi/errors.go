package youtubeapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"

	"github.com/onnwee/tsnip/clip"
)

var (
	quotaReasons = map[string]bool{
		"quotaExceeded":      true,
		"dailyLimitExceeded": true,
	}
	// Rate limits arrive as 403 too but clear on their own.
	rateLimitReasons = map[string]bool{
		"rateLimitExceeded":     true,
		"userRateLimitExceeded": true,
		"commentsRateLimit":     true,
	}
	terminalReasons = map[string]bool{
		"commentsDisabled":        true,
		"forbidden":               true,
		"insufficientPermissions": true,
		"ineligibleAccount":       true,
		"membersOnly":             true,
	}
)

// Wrap classifies err and returns it as a *clip.Error tagged with op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return clip.NewError(ClassifyError(err), op, err)
}

// ClassifyError maps a Data API error to the shared taxonomy. Structured
// reasons win; unstructured errors fall back to message patterns.
//
// Quota and rate limit reasons are checked before the generic 403 handling
// because the API reports both with status 403 as well.
func ClassifyError(err error) clip.ErrorKind {
	if err == nil {
		return clip.KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return clip.KindTransient
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		rs := reasons(gerr)
		for _, r := range rs {
			if quotaReasons[r] {
				return clip.KindQuota
			}
		}
		for _, r := range rs {
			if rateLimitReasons[r] {
				return clip.KindTransient
			}
		}
		for _, r := range rs {
			if terminalReasons[r] {
				return clip.KindTerminalSkip
			}
		}
		switch {
		case gerr.Code == http.StatusForbidden:
			return clip.KindTerminalSkip
		case gerr.Code == http.StatusBadRequest:
			return clip.KindData
		default:
			return clip.KindTransient
		}
	}
	return classifyMessage(err.Error())
}

func classifyMessage(msg string) clip.ErrorKind {
	lower := strings.ToLower(msg)
	for _, p := range []string{"quotaexceeded", "quota exceeded", "dailylimitexceeded"} {
		if strings.Contains(lower, p) {
			return clip.KindQuota
		}
	}
	for _, p := range []string{"ratelimitexceeded", "rate limit exceeded", "commentsratelimit"} {
		if strings.Contains(lower, p) {
			return clip.KindTransient
		}
	}
	for _, p := range []string{"forbidden", "commentsdisabled", "comments disabled", "insufficient permission", "insufficientpermissions", "403"} {
		if strings.Contains(lower, p) {
			return clip.KindTerminalSkip
		}
	}
	return clip.KindTransient
}

func reasons(gerr *googleapi.Error) []string {
	out := make([]string, 0, len(gerr.Errors))
	for _, item := range gerr.Errors {
		if item.Reason != "" {
			out = append(out, item.Reason)
		}
	}
	return out
}
