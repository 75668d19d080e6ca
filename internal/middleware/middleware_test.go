package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/ai-pipeline/internal/auth"
	"github.com/capitalize-ai/ai-pipeline/pkg/logger"
)

func TestAuth(t *testing.T) {
	v := auth.NewJWTVerifier([]byte("secret"))
	var seen string
	h := Auth(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetIdentityID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := v.Generate("user-7", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-7", seen)
}

func TestLogging_SetsCorrelationID(t *testing.T) {
	var got string
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "corr-1", got)
	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestIntegrationRateLimit_PerIntegration(t *testing.T) {
	r := chi.NewRouter()
	r.With(IntegrationRateLimit(2, time.Minute)).Post("/hook/{integrationId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	post := func(id string) int {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hook/"+id, strings.NewReader("{}")))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, post("a"))
	assert.Equal(t, http.StatusOK, post("a"))
	assert.Equal(t, http.StatusTooManyRequests, post("a"))
	assert.Equal(t, http.StatusOK, post("b"))
}

func TestValidation(t *testing.T) {
	assert.NoError(t, ValidateInput("hello", 100))
	assert.Error(t, ValidateInput("   ", 100))
	assert.Error(t, ValidateInput(strings.Repeat("x", 101), 100))
	assert.Error(t, ValidateInput("bad \xff", 100))

	assert.NoError(t, ValidateToolSlug("email-writer"))
	assert.Error(t, ValidateToolSlug("Email Writer"))
	assert.Error(t, ValidateToolSlug(""))

	assert.NoError(t, ValidateIntegrationID("int_01-abc"))
	assert.Error(t, ValidateIntegrationID("../etc"))

	assert.Error(t, ValidateRequestID("nope"))
}
