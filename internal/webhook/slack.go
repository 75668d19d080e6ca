package webhook

import (
	"context"
	"strings"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
)

const (
	slackURLVerification = "url_verification"
	slackEventCallback   = "event_callback"
)

type slackPayload struct {
	Type      string      `json:"type"`
	Challenge string      `json:"challenge"`
	Event     *slackEvent `json:"event"`
}

type slackEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	User    string `json:"user"`
	BotID   string `json:"bot_id"`
	Channel string `json:"channel"`
}

// SlackChallenge echoes a url_verification token.
type SlackChallenge struct {
	Challenge string `json:"challenge"`
}

// SlackAck acknowledges an event delivery.
type SlackAck struct {
	OK        bool   `json:"ok"`
	RequestID string `json:"requestId,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (a *Adapter) handleSlack(ctx context.Context, in *model.Integration, body []byte) (any, error) {
	var p slackPayload
	if err := decode(body, &p); err != nil {
		return nil, err
	}

	if p.Type == slackURLVerification {
		return SlackChallenge{Challenge: p.Challenge}, nil
	}

	if p.Type != slackEventCallback || p.Event == nil || !isSlackMessage(p.Event) {
		return SlackAck{OK: true}, nil
	}

	res, err := a.forward(ctx, in, p.Event.Text)
	if err != nil {
		return nil, err
	}
	if res.Limited {
		return SlackAck{OK: true, Message: LimitMessage}, nil
	}
	return SlackAck{OK: true, RequestID: res.RequestID}, nil
}

// isSlackMessage skips bot-authored events so replies cannot loop.
func isSlackMessage(e *slackEvent) bool {
	if e.BotID != "" || strings.TrimSpace(e.Text) == "" {
		return false
	}
	return e.Type == "message" || e.Type == "app_mention"
}
