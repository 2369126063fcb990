package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DiscordPoster posts payloads as a single embed to a Discord webhook URL.
type DiscordPoster struct {
	Client   *http.Client
	Username string
}

func NewDiscordPoster(timeout time.Duration) *DiscordPoster {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DiscordPoster{Client: &http.Client{Timeout: timeout}, Username: "Tsnip"}
}

type discordEmbed struct {
	Title       string         `json:"title,omitempty"`
	URL         string         `json:"url,omitempty"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Thumbnail   *discordImage  `json:"thumbnail,omitempty"`
	Author      *discordAuthor `json:"author,omitempty"`
	Fields      []discordField `json:"fields,omitempty"`
}

type discordImage struct {
	URL string `json:"url"`
}

type discordAuthor struct {
	Name string `json:"name"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordMessage struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

const embedColor = 0xE62117

func buildDiscordMessage(username string, p Payload) discordMessage {
	title := p.Title
	if title == "" {
		title = "New timestamp"
	}
	e := discordEmbed{
		Title:       title,
		URL:         p.URL,
		Description: p.Message,
		Color:       embedColor,
		Author:      &discordAuthor{Name: p.Author},
		Fields: []discordField{
			{Name: "Timestamp", Value: fmt.Sprintf("[%s](%s)", p.Timestamp, p.URL), Inline: true},
			{Name: "Clipped by", Value: p.Author, Inline: true},
		},
	}
	if p.ThumbnailURL != "" {
		e.Thumbnail = &discordImage{URL: p.ThumbnailURL}
	}
	if !p.SubmittedAt.IsZero() {
		e.Timestamp = p.SubmittedAt.UTC().Format(time.RFC3339)
	}
	return discordMessage{Username: username, Embeds: []discordEmbed{e}}
}

// PostNotification sends one webhook request; non-2xx responses are errors.
func (d *DiscordPoster) PostNotification(ctx context.Context, target string, p Payload) error {
	body, err := json.Marshal(buildDiscordMessage(d.Username, p))
	if err != nil {
		return fmt.Errorf("encode discord payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord webhook: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
