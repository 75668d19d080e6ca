package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
	"github.com/capitalize-ai/ai-pipeline/internal/service"
	"github.com/capitalize-ai/ai-pipeline/internal/store"
	"github.com/capitalize-ai/ai-pipeline/pkg/logger"
)

type memStore struct {
	mu           sync.Mutex
	integrations map[string]*model.Integration
}

func newMemStore(ins ...*model.Integration) *memStore {
	s := &memStore{integrations: map[string]*model.Integration{}}
	for _, in := range ins {
		s.integrations[in.ID] = in
	}
	return s
}

func (s *memStore) GetIntegration(_ context.Context, id string) (*model.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.integrations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (s *memStore) RecordIntegrationUse(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := s.integrations[id]
	in.UsageCount++
	in.LastUsed = &at
	return nil
}

func (s *memStore) RecordIntegrationError(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := s.integrations[id]
	in.ErrorCount++
	in.LastError = message
	return nil
}

func (s *memStore) get(id string) model.Integration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.integrations[id]
}

type fakeRunner struct {
	output string
	err    error
	calls  []string
	tools  []string
}

func (r *fakeRunner) Submit(_ context.Context, identityID, toolID, input string, source model.RequestSource) (*model.AIRequest, error) {
	r.calls = append(r.calls, input)
	r.tools = append(r.tools, toolID)
	if r.err != nil {
		return nil, r.err
	}
	return &model.AIRequest{ID: "req-1", IdentityID: identityID, Output: r.output, Status: model.StatusCompleted, Source: source}, nil
}

func integration(id string, t model.IntegrationType, secret string) *model.Integration {
	return &model.Integration{
		ID:              id,
		Type:            t,
		OwnerIdentityID: "owner-1",
		Status:          model.IntegrationActive,
		WebhookSecret:   secret,
	}
}

func newTestAdapter(st *memStore, r *fakeRunner, opts Options) *Adapter {
	return NewAdapter(st, r, opts, logger.NewNop())
}

func bodyJSON(t *testing.T, resp *Response) map[string]any {
	t.Helper()
	raw, err := json.Marshal(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestHandle_UnknownIntegration(t *testing.T) {
	st := newMemStore()
	a := newTestAdapter(st, &fakeRunner{}, Options{})

	_, err := a.Handle(context.Background(), "missing", []byte(`{}`), "")
	assert.ErrorIs(t, err, ErrIntegrationNotFound)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestHandle_InactiveIntegration(t *testing.T) {
	in := integration("int-1", model.IntegrationCustom, "")
	in.Status = model.IntegrationInactive
	st := newMemStore(in)
	runner := &fakeRunner{}

	_, err := newTestAdapter(st, runner, Options{}).Handle(context.Background(), "int-1", []byte(`{"prompt":"hi"}`), "")
	assert.ErrorIs(t, err, ErrIntegrationInactive)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.Zero(t, st.get("int-1").UsageCount)
	assert.Empty(t, runner.calls)
}

func TestHandle_AlteredBodyRejected(t *testing.T) {
	st := newMemStore(integration("int-1", model.IntegrationCustom, "s3cret"))
	runner := &fakeRunner{output: "ok"}
	a := newTestAdapter(st, runner, Options{})

	signed := []byte(`{"prompt":"hello"}`)
	sig := Sign("s3cret", signed)

	// Same JSON value, different bytes.
	altered := []byte(`{ "prompt": "hello" }`)
	_, err := a.Handle(context.Background(), "int-1", altered, sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.Zero(t, st.get("int-1").UsageCount)
	assert.Empty(t, runner.calls)

	resp, err := a.Handle(context.Background(), "int-1", signed, "sha256="+sig)
	require.NoError(t, err)
	assert.Equal(t, "ok", bodyJSON(t, resp)["response"])
	assert.EqualValues(t, 1, st.get("int-1").UsageCount)
}

func TestHandle_MissingSignature(t *testing.T) {
	st := newMemStore(integration("int-1", model.IntegrationCustom, "s3cret"))
	body := []byte(`{"prompt":"hello"}`)

	_, err := newTestAdapter(st, &fakeRunner{}, Options{}).Handle(context.Background(), "int-1", body, "")
	require.NoError(t, err)

	_, err = newTestAdapter(st, &fakeRunner{}, Options{RequireSignature: true}).Handle(context.Background(), "int-1", body, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestHandle_MalformedAfterVerification(t *testing.T) {
	st := newMemStore(integration("int-1", model.IntegrationSlack, ""))

	_, err := newTestAdapter(st, &fakeRunner{}, Options{}).Handle(context.Background(), "int-1", []byte(`{not json`), "")
	assert.ErrorIs(t, err, ErrMalformedPayload)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.EqualValues(t, 1, st.get("int-1").UsageCount)
	assert.Zero(t, st.get("int-1").ErrorCount)
}

func TestHandle_SlackChallenge(t *testing.T) {
	st := newMemStore(integration("int-1", model.IntegrationSlack, ""))
	runner := &fakeRunner{}

	resp, err := newTestAdapter(st, runner, Options{}).Handle(context.Background(), "int-1",
		[]byte(`{"type":"url_verification","challenge":"abc123","token":"x"}`), "")
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"challenge": "abc123"}, bodyJSON(t, resp))
	assert.Empty(t, runner.calls)
}

func TestHandle_SlackEvent(t *testing.T) {
	st := newMemStore(integration("int-1", model.IntegrationSlack, ""))
	runner := &fakeRunner{output: "generated"}
	a := newTestAdapter(st, runner, Options{})

	resp, err := a.Handle(context.Background(), "int-1",
		[]byte(`{"type":"event_callback","event":{"type":"app_mention","text":"what is go?","user":"U1"}}`), "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true, "requestId": "req-1"}, bodyJSON(t, resp))
	assert.Equal(t, []string{"what is go?"}, runner.calls)
	assert.Equal(t, []string{"integration:SLACK"}, runner.tools)

	// Bot messages are acknowledged without generation.
	resp, err = a.Handle(context.Background(), "int-1",
		[]byte(`{"type":"event_callback","event":{"type":"message","text":"echo","bot_id":"B1"}}`), "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, bodyJSON(t, resp))
	assert.Len(t, runner.calls, 1)
}

func TestHandle_DiscordPing(t *testing.T) {
	st := newMemStore(integration("int-1", model.IntegrationDiscord, ""))
	runner := &fakeRunner{}

	for _, body := range []string{
		`{"type":1}`,
		`{"type":1,"content":"hello there","data":{"name":"ask","options":[{"name":"prompt","type":3,"value":"say pong"}]}}`,
	} {
		resp, err := newTestAdapter(st, runner, Options{}).Handle(context.Background(), "int-1", []byte(body), "")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"type": float64(1)}, bodyJSON(t, resp))
	}
	assert.Empty(t, runner.calls)
}

func TestHandle_DiscordCommand(t *testing.T) {
	st := newMemStore(integration("int-1", model.IntegrationDiscord, ""))
	runner := &fakeRunner{output: "pong!"}

	body := []byte(`{"type":2,"data":{"name":"ask","options":[{"name":"count","type":4,"value":3},{"name":"prompt","type":3,"value":"say pong"}]}}`)
	resp, err := newTestAdapter(st, runner, Options{}).Handle(context.Background(), "int-1", body, "")
	require.NoError(t, err)

	out := bodyJSON(t, resp)
	assert.Equal(t, float64(4), out["type"])
	assert.Equal(t, map[string]any{"content": "pong!"}, out["data"])
	assert.Equal(t, []string{"say pong"}, runner.calls)
}

func TestDiscordMessage_Clipped(t *testing.T) {
	long := make([]rune, 2500)
	for i := range long {
		long[i] = 'x'
	}
	msg := discordMessage(string(long))
	assert.Len(t, msg.Data.Content, 2000)
}

func TestHandle_ChromeActions(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		key    string
		prompt string
	}{
		{"summarize", `{"action":"summarize","text":"long article"}`, "summary", "Summarize"},
		{"translate default", `{"action":"translate","text":"hola"}`, "translation", "to English"},
		{"translate target", `{"action":"translate","text":"hello","targetLanguage":"French"}`, "translation", "to French"},
		{"analyze", `{"action":"analyze","content":"some text"}`, "analysis", "Analyze"},
		{"custom", `{"action":"custom","prompt":"Rewrite as a haiku","text":"autumn"}`, "result", "Rewrite as a haiku"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore(integration("int-1", model.IntegrationChrome, ""))
			runner := &fakeRunner{output: "done"}

			resp, err := newTestAdapter(st, runner, Options{}).Handle(context.Background(), "int-1", []byte(tt.body), "")
			require.NoError(t, err)
			assert.Equal(t, map[string]any{tt.key: "done"}, bodyJSON(t, resp))
			require.Len(t, runner.calls, 1)
			assert.Contains(t, runner.calls[0], tt.prompt)
		})
	}
}

func TestHandle_ChromeUnknownAction(t *testing.T) {
	st := newMemStore(integration("int-1", model.IntegrationChrome, ""))

	_, err := newTestAdapter(st, &fakeRunner{}, Options{}).Handle(context.Background(), "int-1", []byte(`{"action":"dance","text":"x"}`), "")
	assert.ErrorIs(t, err, ErrUnsupportedAction)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
}

func TestHandle_GenericAck(t *testing.T) {
	st := newMemStore(integration("int-1", model.IntegrationZapier, ""))
	runner := &fakeRunner{}

	resp, err := newTestAdapter(st, runner, Options{}).Handle(context.Background(), "int-1", []byte(`{"event":"new_row"}`), "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"success": true, "message": "Webhook received"}, bodyJSON(t, resp))
	assert.Empty(t, runner.calls)
}

func TestHandle_QuotaDeniedKeepsEnvelope(t *testing.T) {
	st := newMemStore(
		integration("custom", model.IntegrationCustom, ""),
		integration("chrome", model.IntegrationChrome, ""),
		integration("slack", model.IntegrationSlack, ""),
	)
	runner := &fakeRunner{err: service.ErrQuotaExceeded}
	a := newTestAdapter(st, runner, Options{})
	ctx := context.Background()

	resp, err := a.Handle(ctx, "custom", []byte(`{"prompt":"hi"}`), "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"response": LimitMessage}, bodyJSON(t, resp))

	resp, err = a.Handle(ctx, "chrome", []byte(`{"action":"summarize","text":"x"}`), "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"summary": LimitMessage}, bodyJSON(t, resp))

	resp, err = a.Handle(ctx, "slack", []byte(`{"type":"event_callback","event":{"type":"message","text":"hi"}}`), "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true, "message": LimitMessage}, bodyJSON(t, resp))

	assert.Zero(t, st.get("custom").ErrorCount)
}

func TestHandle_GenerationFailureRecordsError(t *testing.T) {
	st := newMemStore(integration("int-1", model.IntegrationCustom, ""))
	runner := &fakeRunner{err: &service.GenerationError{Kind: model.ErrorKindProvider, RequestID: "req-1", Err: errors.New("boom")}}

	_, err := newTestAdapter(st, runner, Options{}).Handle(context.Background(), "int-1", []byte(`{"prompt":"hi"}`), "")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))

	in := st.get("int-1")
	assert.EqualValues(t, 1, in.UsageCount)
	assert.EqualValues(t, 1, in.ErrorCount)
	assert.Contains(t, in.LastError, "boom")
	require.NotNil(t, in.LastUsed)
}
