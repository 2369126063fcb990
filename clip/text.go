package clip

import (
	"regexp"
	"strings"
)

// emojiToken matches chat shortcodes such as :face-blue-smiling: or :_pepeLaugh:.
var emojiToken = regexp.MustCompile(`:[A-Za-z0-9_\-]+:`)

// CleanMessage removes emoji shortcodes and collapses whitespace.
func CleanMessage(msg string) string {
	msg = emojiToken.ReplaceAllString(msg, " ")
	return strings.Join(strings.Fields(msg), " ")
}

// CleanUser strips a leading mention sigil and surrounding space.
func CleanUser(user string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(user), "@"))
}
