package server

import (
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// firstNonEmpty returns the first argument that is not blank.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// queryOrForm reads key from the query string, then from a parsed form body.
func queryOrForm(r *http.Request, key string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	if r.Method == http.MethodPost {
		_ = r.ParseForm()
		return r.PostForm.Get(key)
	}
	return ""
}

// unresolvedVariable matches bot variables that were sent literally because
// the viewer typed no argument, e.g. $(querystring), ${1:} or {msg}.
var unresolvedVariable = regexp.MustCompile(`^(\$\([^)]*\)|\$\{[^}]*\}|\{[A-Za-z_.]+\})$`)

func isPlaceholder(s string) bool {
	return unresolvedVariable.MatchString(strings.TrimSpace(s))
}

// getEnvInt returns an integer environment variable value or default if not set or invalid.
func getEnvInt(key string, defaultVal int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return defaultVal
}
