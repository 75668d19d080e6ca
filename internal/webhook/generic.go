package webhook

import (
	"context"
	"strings"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
)

type genericPayload struct {
	Prompt string `json:"prompt"`
}

// GenericAck acknowledges a delivery that carried no prompt.
type GenericAck struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GenericResponse carries generated text for Zapier and custom integrations.
type GenericResponse struct {
	Response string `json:"response"`
}

func (a *Adapter) handleGeneric(ctx context.Context, in *model.Integration, body []byte) (any, error) {
	var p genericPayload
	if err := decode(body, &p); err != nil {
		return nil, err
	}

	prompt := strings.TrimSpace(p.Prompt)
	if prompt == "" {
		return GenericAck{Success: true, Message: "Webhook received"}, nil
	}

	res, err := a.forward(ctx, in, prompt)
	if err != nil {
		return nil, err
	}
	return GenericResponse{Response: res.Content()}, nil
}
