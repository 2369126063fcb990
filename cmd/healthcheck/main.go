// Command healthcheck probes /healthz for container HEALTHCHECK directives.
// HEALTHCHECK_URL overrides the default http://localhost:8080/healthz.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"
)

func main() {
	url := os.Getenv("HEALTHCHECK_URL")
	if url == "" {
		url = "http://localhost:8080/healthz"
	}
	os.Exit(probe(url, 3*time.Second))
}

// probe returns the process exit code for a GET of url.
func probe(url string, timeout time.Duration) int {
	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return 1
	}
	resp, err := client.Do(req)
	if err != nil {
		return 1
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
