package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zxresearch/reportgate/internal/auth"
	"github.com/zxresearch/reportgate/internal/config"
	"github.com/zxresearch/reportgate/internal/domain"
	"github.com/zxresearch/reportgate/internal/upstream"
	"go.uber.org/zap"
)

// fakeStreamStore records persisted stream records and serves a canned
// settings blob.
type fakeStreamStore struct {
	mu      sync.Mutex
	records []*domain.ChatStreamRecord
	setting string
}

func (f *fakeStreamStore) AppendStreamRecord(ctx context.Context, rec *domain.ChatStreamRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStreamStore) GetSetting(ctx context.Context, key string) (string, error) {
	return f.setting, nil
}

func (f *fakeStreamStore) persisted() []*domain.ChatStreamRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records
}

// flushWriter satisfies StreamWriter over an in-memory buffer.
type flushWriter struct {
	bytes.Buffer
}

func (f *flushWriter) Flush() {}

func newTestService(upstreamURL string, store *fakeStreamStore) *StreamService {
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			ChatBase:        upstreamURL,
			OtherBase:       upstreamURL,
			CustomOtherBase: upstreamURL,
		},
		Stream: config.StreamConfig{
			ConnectTimeout:       5 * time.Second,
			TotalTimeout:         10 * time.Second,
			DefaultEngine:        "custom-model-20250213",
			GuardActivationChars: 1000,
			GuardMinLineChars:    5,
			GuardRepeatThreshold: 2,
		},
	}
	return NewStreamService(cfg, upstream.NewRouter(cfg.Upstream), store, zap.NewNop())
}

func claimsPrincipal(username string) auth.Principal {
	return auth.Principal{Claims: jwt.MapClaims{"username": username}}
}

func TestChatStreamRelaysAndPersistsOnce(t *testing.T) {
	stream := `{"data":"hello "}` + "\n" + `{"data":"world","documents":[{"sid":"s1"}]}` + "\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["use_short_id"])
		assert.Equal(t, float64(3), body["embedding_version"])
		assert.Equal(t, "custom-model-20250213", body["engine"])
		assert.Equal(t, "api", body["client_type"])
		w.Write([]byte(stream))
	}))
	defer srv.Close()

	store := &fakeStreamStore{}
	svc := newTestService(srv.URL, store)
	w := &flushWriter{}

	err := svc.ChatStream(context.Background(), claimsPrincipal("alice"), map[string]any{
		"question":            "what happened",
		"with_remote_context": "newyanbao_main",
	}, w)
	require.NoError(t, err)

	// bytes pass through verbatim
	assert.Equal(t, stream, w.String())

	records := store.persisted()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "alice", rec.UserID)
	assert.Equal(t, "newyanbao_main", rec.AIType)
	assert.Equal(t, "what happened", rec.Question)
	assert.Equal(t, "hello world", rec.Answer)
	require.Len(t, rec.Documents, 1)
	assert.Equal(t, "s1", rec.Documents[0].SID)
	assert.NotEmpty(t, rec.SessionID)
}

func TestChatStreamGuardAbortPersistsOnce(t *testing.T) {
	filler := strings.Repeat("x", 1100)
	events := []string{
		`{"data":"` + filler + `\n"}`,
		`{"data":"repeated line\nrepeated line\n"}`,
		`{"data":"repeated line"}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, ev := range events {
			w.Write([]byte(ev + "\n"))
			flusher.Flush()
		}
		// keep the body open; the relay should hang up on us
		<-r.Context().Done()
	}))
	defer srv.Close()

	store := &fakeStreamStore{}
	svc := newTestService(srv.URL, store)
	w := &flushWriter{}

	err := svc.ChatStream(context.Background(), claimsPrincipal("alice"), map[string]any{
		"question":            "loop forever",
		"with_remote_context": "newyanbao_main",
	}, w)
	require.NoError(t, err)

	records := store.persisted()
	require.Len(t, records, 1)
	// the triggering chunk is retained
	assert.Equal(t, 3, strings.Count(records[0].Answer, "repeated line"))
}

func TestChatStreamUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway day", http.StatusBadGateway)
	}))
	defer srv.Close()

	store := &fakeStreamStore{}
	svc := newTestService(srv.URL, store)
	w := &flushWriter{}

	err := svc.ChatStream(context.Background(), claimsPrincipal("alice"), map[string]any{
		"question":            "hi",
		"with_remote_context": "newyanbao_main",
	}, w)

	var upstreamErr *domain.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusBadGateway, upstreamErr.Status)
	assert.Empty(t, w.String())

	// the exchange still persists, with an empty answer
	records := store.persisted()
	require.Len(t, records, 1)
	assert.Empty(t, records[0].Answer)
}

func TestChatStreamConnectFailurePersistsOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	store := &fakeStreamStore{}
	svc := newTestService(srv.URL, store)
	w := &flushWriter{}

	err := svc.ChatStream(context.Background(), claimsPrincipal("alice"), map[string]any{
		"question":            "hi",
		"with_remote_context": "newyanbao_main",
	}, w)

	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Len(t, store.persisted(), 1)
}

// failingWriter accepts a fixed number of writes, then fails like a
// closed client connection.
type failingWriter struct {
	flushWriter
	remaining int
}

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.remaining <= 0 {
		return 0, errors.New("write: broken pipe")
	}
	f.remaining--
	return f.flushWriter.Write(p)
}

func TestChatStreamClientDisconnectPersistsOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write([]byte(`{"data":"one "}` + "\n"))
		flusher.Flush()
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(`{"data":"two"}` + "\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	store := &fakeStreamStore{}
	svc := newTestService(srv.URL, store)
	w := &failingWriter{remaining: 1}

	err := svc.ChatStream(context.Background(), claimsPrincipal("alice"), map[string]any{
		"question":            "hi",
		"with_remote_context": "newyanbao_main",
	}, w)

	// the client already got a success status, nothing to surface
	require.NoError(t, err)

	records := store.persisted()
	require.Len(t, records, 1)
	// only what actually reached the client is recorded
	assert.Equal(t, "one ", records[0].Answer)
}

func TestChatStreamTimeoutMidStreamPersistsOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write([]byte(`{"data":"partial"}` + "\n"))
		flusher.Flush()
		// stall past the total deadline
		<-r.Context().Done()
	}))
	defer srv.Close()

	store := &fakeStreamStore{}
	svc := newTestService(srv.URL, store)
	svc.cfg.Stream.TotalTimeout = 300 * time.Millisecond
	w := &flushWriter{}

	err := svc.ChatStream(context.Background(), claimsPrincipal("alice"), map[string]any{
		"question":            "hi",
		"with_remote_context": "newyanbao_main",
	}, w)

	// deadline hit after the first relayed byte, so no error surfaces
	require.NoError(t, err)

	records := store.persisted()
	require.Len(t, records, 1)
	assert.Equal(t, "partial", records[0].Answer)
}

func TestChatStreamMissingQuestion(t *testing.T) {
	store := &fakeStreamStore{}
	svc := newTestService("http://unused.invalid", store)
	w := &flushWriter{}

	err := svc.ChatStream(context.Background(), claimsPrincipal("alice"), map[string]any{
		"with_remote_context": "newyanbao_main",
	}, w)

	assert.ErrorIs(t, err, domain.ErrMissingField)
	// rejected before the exchange began, nothing to persist
	assert.Empty(t, store.persisted())
}

func TestChatStreamStaticTokenEntitlements(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":"ok"}` + "\n"))
	}))
	defer srv.Close()

	gate := auth.NewGate("test-secret")
	token := gate.IssueStaticToken([]string{"newyanbao_main", "notice_main"})
	principal, err := gate.Verify(token)
	require.NoError(t, err)

	store := &fakeStreamStore{}
	svc := newTestService(srv.URL, store)

	// requested collections inside the entitlement set pass
	err = svc.ChatStream(context.Background(), principal, map[string]any{
		"question":            "hi",
		"index_name":          "newyanbao_main,notice_main",
		"with_remote_context": "newyanbao_main",
	}, &flushWriter{})
	require.NoError(t, err)

	// any collection outside it is rejected
	err = svc.ChatStream(context.Background(), principal, map[string]any{
		"question":            "hi",
		"index_name":          "newyanbao_main,jiyao_main",
		"with_remote_context": "newyanbao_main",
	}, &flushWriter{})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	// claims principals skip the entitlement check entirely
	err = svc.ChatStream(context.Background(), claimsPrincipal("alice"), map[string]any{
		"question":            "hi",
		"index_name":          "jiyao_main",
		"with_remote_context": "newyanbao_main",
	}, &flushWriter{})
	require.NoError(t, err)
}

func TestChatStreamInjectsSystemPrompt(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotPrompt, _ = body["additional_prompt"].(string)
		w.Write([]byte(`{"data":"ok"}` + "\n"))
	}))
	defer srv.Close()

	store := &fakeStreamStore{setting: `{"prompt":"answer in formal register"}`}
	svc := newTestService(srv.URL, store)

	err := svc.ChatStream(context.Background(), claimsPrincipal("alice"), map[string]any{
		"question":            "hi",
		"with_remote_context": "newyanbao_main",
	}, &flushWriter{})
	require.NoError(t, err)
	assert.Equal(t, "answer in formal register", gotPrompt)
}
