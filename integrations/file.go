// Package integrations resolves per-channel settings: the notification
// webhook and the chat reply template. Rows in the database win over the
// optional YAML file.
package integrations

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/onnwee/tsnip/clip"
)

// File is the YAML layout of CHANNEL_INTEGRATIONS_FILE:
//
//	channels:
//	  - channel_id: UCxxxx
//	    notify_webhook: ${DISCORD_WEBHOOK_UCXXXX}
//	    comment_template: "Clipped by {user} (with a -{delay}s delay){title_part}."
type File struct {
	Channels []ChannelEntry `yaml:"channels"`
}

type ChannelEntry struct {
	ChannelID       string `yaml:"channel_id"`
	NotifyWebhook   string `yaml:"notify_webhook"`
	CommentTemplate string `yaml:"comment_template"`
}

// LoadFile reads and validates an integrations file. Environment references
// in webhook URLs are expanded so secrets can stay out of the file.
func LoadFile(path string) (map[string]clip.ChannelIntegration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read integrations file: %w", err)
	}
	return Parse(data)
}

// Parse decodes integrations YAML.
func Parse(data []byte) (map[string]clip.ChannelIntegration, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse integrations file: %w", err)
	}
	out := make(map[string]clip.ChannelIntegration, len(f.Channels))
	for i, e := range f.Channels {
		id := strings.TrimSpace(e.ChannelID)
		if id == "" {
			return nil, fmt.Errorf("channels[%d]: channel_id is required", i)
		}
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("channels[%d]: duplicate channel_id %s", i, id)
		}
		out[id] = clip.ChannelIntegration{
			ChannelID:       id,
			NotifyTarget:    strings.TrimSpace(os.ExpandEnv(e.NotifyWebhook)),
			CommentTemplate: e.CommentTemplate,
		}
	}
	return out, nil
}
