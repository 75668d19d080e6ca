package webhook

import (
	"context"
	"fmt"
	"strings"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
)

// Browser extension actions.
const (
	ActionSummarize = "summarize"
	ActionTranslate = "translate"
	ActionAnalyze   = "analyze"
	ActionCustom    = "custom"

	defaultTargetLanguage = "English"
)

type chromePayload struct {
	Action         string `json:"action"`
	Text           string `json:"text"`
	Content        string `json:"content"`
	TargetLanguage string `json:"targetLanguage"`
	Prompt         string `json:"prompt"`
}

func (p *chromePayload) text() string {
	if t := strings.TrimSpace(p.Text); t != "" {
		return t
	}
	return strings.TrimSpace(p.Content)
}

func (a *Adapter) handleChrome(ctx context.Context, in *model.Integration, body []byte) (any, error) {
	var p chromePayload
	if err := decode(body, &p); err != nil {
		return nil, err
	}

	key, prompt, err := chromePrompt(&p)
	if err != nil {
		return nil, err
	}

	res, err := a.forward(ctx, in, prompt)
	if err != nil {
		return nil, err
	}
	return map[string]string{key: res.Content()}, nil
}

// chromePrompt returns the response key and the templated prompt for an action.
func chromePrompt(p *chromePayload) (string, string, error) {
	text := p.text()

	switch strings.ToLower(p.Action) {
	case ActionSummarize:
		if text == "" {
			return "", "", fmt.Errorf("%w: text is required", ErrMalformedPayload)
		}
		return "summary", "Summarize the following text concisely, keeping the key points:\n\n" + text, nil

	case ActionTranslate:
		if text == "" {
			return "", "", fmt.Errorf("%w: text is required", ErrMalformedPayload)
		}
		lang := strings.TrimSpace(p.TargetLanguage)
		if lang == "" {
			lang = defaultTargetLanguage
		}
		return "translation", fmt.Sprintf("Translate the following text to %s. Reply with the translation only:\n\n%s", lang, text), nil

	case ActionAnalyze:
		if text == "" {
			return "", "", fmt.Errorf("%w: text is required", ErrMalformedPayload)
		}
		return "analysis", "Analyze the following text. Describe its tone, intent and main claims:\n\n" + text, nil

	case ActionCustom:
		prompt := strings.TrimSpace(p.Prompt)
		if prompt == "" {
			return "", "", fmt.Errorf("%w: prompt is required", ErrMalformedPayload)
		}
		if text != "" {
			prompt += "\n\n" + text
		}
		return "result", prompt, nil

	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedAction, p.Action)
	}
}
