package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/omi-jarvis/internal/auth"
	"github.com/suPer8Hu/omi-jarvis/internal/config"
	"github.com/suPer8Hu/omi-jarvis/internal/db/dbtest"
	"github.com/suPer8Hu/omi-jarvis/internal/session"
	"github.com/suPer8Hu/omi-jarvis/internal/transcript"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router   *gin.Engine
	segments *transcript.Repo
	sessions *session.Repo
}

func newServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb := dbtest.Open(t, append(transcript.Models(), &session.Mapping{})...)
	segs := transcript.NewRepo(gdb)
	sess := session.NewRepo(gdb)
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "test-secret"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = time.Hour
	}
	return &testServer{
		router:   NewRouter(segs, session.NewMap(sess, session.Options{}), cfg),
		segments: segs,
		sessions: sess,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestWebhook_StoresSegmentsAndSkipsDuplicates(t *testing.T) {
	s := newServer(t, config.Config{})
	body := `{"session_id":"s1","segments":[
		{"id":"a","text":"hey jarvis","speaker":"SPEAKER_0","speaker_id":0,"is_user":true,"start":0.5,"end":1.25},
		{"id":"b","text":"what's up","speaker":"SPEAKER_1","speaker_id":1,"start":1.3,"end":2}
	]}`

	w, env := s.do(t, http.MethodPost, "/webhook", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.EqualValues(t, 2, data["stored"])
	assert.EqualValues(t, 0, data["duplicates"])

	w, env = s.do(t, http.MethodPost, "/", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.EqualValues(t, 0, data["stored"])
	assert.EqualValues(t, 2, data["duplicates"])

	segs, err := s.segments.ListUnprocessed(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "s1", segs[0].SessionID)
	assert.Equal(t, 1.25, segs[0].EndTime)
}

func TestWebhook_TranscriptSegmentsKey(t *testing.T) {
	s := newServer(t, config.Config{})
	w, _ := s.do(t, http.MethodPost, "/webhook", `{"transcript_segments":[{"id":"x","text":"hi","speaker_id":2}]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	segs, err := s.segments.ListUnprocessed(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, transcript.UnknownSession, segs[0].SessionID)
	assert.Equal(t, "SPEAKER_2", segs[0].Speaker)
}

func TestWebhook_RejectsEmptyAndInvalid(t *testing.T) {
	s := newServer(t, config.Config{})
	for _, body := range []string{"", "{}", "not json", "[]"} {
		w, _ := s.do(t, http.MethodPost, "/webhook", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
	}
}

func TestHealth(t *testing.T) {
	s := newServer(t, config.Config{})
	w, env := s.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "healthy")

	w, _ = s.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConversation_LimitAndOrder(t *testing.T) {
	s := newServer(t, config.Config{})
	ctx := context.Background()
	for _, txt := range []string{"one", "two", "three"} {
		require.NoError(t, s.segments.SaveMessage(ctx, &transcript.Message{Type: transcript.MessageUser, Text: txt}))
	}

	w, env := s.do(t, http.MethodGet, "/conversation?limit=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Count    int                  `json:"count"`
		Messages []transcript.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, 2, data.Count)
	assert.Equal(t, "two", data.Messages[0].Text)
	assert.Equal(t, "three", data.Messages[1].Text)

	w, _ = s.do(t, http.MethodGet, "/conversation?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessions_Lookup(t *testing.T) {
	s := newServer(t, config.Config{})
	require.NoError(t, s.sessions.Upsert(context.Background(), "s2", "conv_123", time.Now()))

	w, env := s.do(t, http.MethodGet, "/sessions/s2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "conv_123")

	w, _ = s.do(t, http.MethodGet, "/sessions/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuth_ProtectsReadsWhenAdminConfigured(t *testing.T) {
	hash, err := auth.HashPassword("pw")
	require.NoError(t, err)
	cfg := config.Config{}
	cfg.Auth.AdminPasswordHash = hash
	s := newServer(t, cfg)

	w, _ := s.do(t, http.MethodGet, "/conversation", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodPost, "/login", `{"password":"bad"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := s.do(t, http.MethodPost, "/login", `{"password":"pw"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.Token)

	w, _ = s.do(t, http.MethodGet, "/conversation", "", map[string]string{"Authorization": "Bearer " + data.Token})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodPost, "/webhook", `{"segments":[{"id":"z","text":"x"}]}`, nil)
	assert.Equal(t, http.StatusOK, w.Code, "the device webhook stays open")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t, config.Config{})
	w, _ := s.do(t, http.MethodPost, "/webhook", `{"segments":[{"id":"m","text":"x"}]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "jarvis_segments_ingested_total")
}
