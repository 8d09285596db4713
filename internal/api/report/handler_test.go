package report

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zxresearch/reportgate/internal/api/middleware"
	"github.com/zxresearch/reportgate/internal/auth"
	"github.com/zxresearch/reportgate/internal/config"
	"github.com/zxresearch/reportgate/internal/domain"
	"github.com/zxresearch/reportgate/internal/service"
	"github.com/zxresearch/reportgate/internal/upstream"
	"go.uber.org/zap"
)

type nullStreamStore struct{}

func (nullStreamStore) AppendStreamRecord(ctx context.Context, rec *domain.ChatStreamRecord) error {
	return nil
}

func (nullStreamStore) GetSetting(ctx context.Context, key string) (string, error) {
	return "", nil
}

func newTestRouter(upstreamURL string, gate *auth.Gate) *gin.Engine {
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			ChatBase:        upstreamURL,
			OtherBase:       upstreamURL,
			CustomOtherBase: upstreamURL,
		},
		Stream: config.StreamConfig{
			ConnectTimeout:       2 * time.Second,
			TotalTimeout:         500 * time.Millisecond,
			DefaultEngine:        "custom-model-20250213",
			GuardActivationChars: 1000,
			GuardMinLineChars:    5,
			GuardRepeatThreshold: 2,
		},
	}
	router := upstream.NewRouter(cfg.Upstream)
	streams := service.NewStreamService(cfg, router, nullStreamStore{}, zap.NewNop())
	proxy := service.NewProxyService(router, zap.NewNop())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(streams, proxy, zap.NewNop()).RegisterRoutes(r.Group("/api/report"), middleware.Auth(gate))
	return r
}

func postChatStream(r *gin.Engine, token string, body map[string]any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPost, "/api/report/chat_stream", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestChatStreamErrorStatuses(t *testing.T) {
	gate := auth.NewGate("test-secret")
	token, err := gate.IssueAccessToken("alice", time.Hour)
	require.NoError(t, err)

	t.Run("missing question", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()
		r := newTestRouter(srv.URL, gate)

		rec := postChatStream(r, token, map[string]any{"with_remote_context": "newyanbao_main"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	})

	t.Run("entitlement denied", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()
		r := newTestRouter(srv.URL, gate)

		static := gate.IssueStaticToken([]string{"notice_main"})
		rec := postChatStream(r, static, map[string]any{
			"question":            "hi",
			"index_name":          "newyanbao_main",
			"with_remote_context": "notice_main",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("upstream status passthrough", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad gateway day", http.StatusBadGateway)
		}))
		defer srv.Close()
		r := newTestRouter(srv.URL, gate)

		rec := postChatStream(r, token, map[string]any{
			"question":            "hi",
			"with_remote_context": "newyanbao_main",
		})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), "bad gateway day")
	})

	t.Run("timeout before first byte", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// drain the body so the server can detect the client closing
			// the connection; then never answer inside the total deadline
			io.Copy(io.Discard, r.Body)
			<-r.Context().Done()
		}))
		defer srv.Close()
		r := newTestRouter(srv.URL, gate)

		rec := postChatStream(r, token, map[string]any{
			"question":            "hi",
			"with_remote_context": "newyanbao_main",
		})
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})

	t.Run("upstream unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close() // nothing listening anymore
		r := newTestRouter(srv.URL, gate)

		rec := postChatStream(r, token, map[string]any{
			"question":            "hi",
			"with_remote_context": "newyanbao_main",
		})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("bad bearer token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()
		r := newTestRouter(srv.URL, gate)

		rec := postChatStream(r, "not-a-token", map[string]any{"question": "hi"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestChatStreamSuccessRelaysBody(t *testing.T) {
	gate := auth.NewGate("test-secret")
	token, err := gate.IssueAccessToken("alice", time.Hour)
	require.NoError(t, err)

	stream := `{"data":"hello"}` + "\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(stream))
	}))
	defer srv.Close()
	r := newTestRouter(srv.URL, gate)

	rec := postChatStream(r, token, map[string]any{
		"question":            "hi",
		"with_remote_context": "newyanbao_main",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stream, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")
}
