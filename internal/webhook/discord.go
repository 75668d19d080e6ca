package webhook

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
)

// Discord interaction and response types.
const (
	discordPing               = 1
	discordApplicationCommand = 2
	discordPong               = 1
	discordChannelMessage     = 4

	discordOptionString  = 3
	discordContentLimit  = 2000
	discordNoPromptReply = "Please provide a prompt."
)

type discordPayload struct {
	Type    int          `json:"type"`
	Content string       `json:"content"`
	Data    *discordData `json:"data"`
}

type discordData struct {
	Name    string          `json:"name"`
	Options []discordOption `json:"options"`
}

type discordOption struct {
	Name  string          `json:"name"`
	Type  int             `json:"type"`
	Value json.RawMessage `json:"value"`
}

// DiscordResponse is an interaction response.
type DiscordResponse struct {
	Type int                  `json:"type"`
	Data *DiscordResponseData `json:"data,omitempty"`
}

// DiscordResponseData carries message content.
type DiscordResponseData struct {
	Content string `json:"content"`
}

func (a *Adapter) handleDiscord(ctx context.Context, in *model.Integration, body []byte) (any, error) {
	var p discordPayload
	if err := decode(body, &p); err != nil {
		return nil, err
	}

	if p.Type == discordPing {
		return DiscordResponse{Type: discordPong}, nil
	}

	prompt := discordPrompt(&p)
	if prompt == "" {
		return discordMessage(discordNoPromptReply), nil
	}

	res, err := a.forward(ctx, in, prompt)
	if err != nil {
		return nil, err
	}
	return discordMessage(res.Content()), nil
}

// discordPrompt prefers a "prompt" option, then the first string option,
// then plain message content.
func discordPrompt(p *discordPayload) string {
	if p.Type == discordApplicationCommand && p.Data != nil {
		var first string
		for _, opt := range p.Data.Options {
			var v string
			if opt.Type != discordOptionString || json.Unmarshal(opt.Value, &v) != nil {
				continue
			}
			if opt.Name == "prompt" {
				return strings.TrimSpace(v)
			}
			if first == "" {
				first = v
			}
		}
		if first != "" {
			return strings.TrimSpace(first)
		}
	}
	return strings.TrimSpace(p.Content)
}

func discordMessage(content string) DiscordResponse {
	if r := []rune(content); len(r) > discordContentLimit {
		content = string(r[:discordContentLimit])
	}
	return DiscordResponse{
		Type: discordChannelMessage,
		Data: &DiscordResponseData{Content: content},
	}
}
