package realtime

import (
	"encoding/json"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
)

// dispatch handles one inbound frame.
func (g *Gateway) dispatch(c *Conn, env model.Envelope) {
	switch env.Event {
	case model.EventConversationJoin:
		if id, ok := g.conversationID(c, env); ok {
			g.hub.Join(c, ConversationRoom(id))
		}

	case model.EventConversationLeave:
		if id, ok := g.conversationID(c, env); ok {
			g.hub.Leave(c, ConversationRoom(id))
		}

	case model.EventTypingStart, model.EventTypingStop:
		id, ok := g.conversationID(c, env)
		if !ok {
			return
		}
		g.hub.Broadcast(ConversationRoom(id), mustEnvelope(model.EventTypingUpdate, model.TypingUpdateEvent{
			UserID:         c.IdentityID,
			ConversationID: id,
			IsTyping:       env.Event == model.EventTypingStart,
		}), c)

	case model.EventStreamStart:
		var p model.StreamStartPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			g.streamer.fail(c, "", CodeInvalidPayload, "invalid ai:stream:start payload")
			return
		}
		g.streamer.Start(c, p)

	case model.EventStreamCancel:
		if id, ok := g.conversationID(c, env); ok {
			g.streamer.Cancel(c, id)
		}

	default:
		c.TrySend(mustEnvelope(model.EventError, model.ErrorEvent{Code: "unknown_event", Message: "unknown event " + env.Event}))
	}
}

func (g *Gateway) conversationID(c *Conn, env model.Envelope) (string, bool) {
	var p model.ConversationPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.ConversationID == "" {
		c.TrySend(mustEnvelope(model.EventError, model.ErrorEvent{Code: "invalid_payload", Message: env.Event + " requires conversationId"}))
		return "", false
	}
	return p.ConversationID, true
}
