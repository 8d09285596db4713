package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zxresearch/reportgate/internal/config"
	"github.com/zxresearch/reportgate/internal/domain"
	"github.com/zxresearch/reportgate/internal/upstream"
	"go.uber.org/zap"
)

func newTestProxy(upstreamURL string) *ProxyService {
	cfg := config.UpstreamConfig{
		ChatBase:        upstreamURL,
		OtherBase:       upstreamURL,
		CustomOtherBase: upstreamURL,
	}
	return NewProxyService(upstream.NewRouter(cfg), zap.NewNop())
}

func TestPageTextSendsPlainTextHeader(t *testing.T) {
	var gotContentType, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		w.Write([]byte("page body"))
	}))
	defer srv.Close()

	text, err := newTestProxy(srv.URL).PageText(context.Background(), "newyanbao_main", "p42")
	require.NoError(t, err)
	assert.Equal(t, "page body", text)
	assert.Equal(t, "text/plain", gotContentType)
	assert.Equal(t, "/page_text/newyanbao_main/p42", gotPath)
}

func TestParaInfoSendsJSONHeader(t *testing.T) {
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"para":"text"}`))
	}))
	defer srv.Close()

	raw, err := newTestProxy(srv.URL).ParaInfo(context.Background(), "newyanbao_main", "p42")
	require.NoError(t, err)
	assert.JSONEq(t, `{"para":"text"}`, string(raw))
	assert.Equal(t, "application/json", gotContentType)
}

func TestPageTextUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such page", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestProxy(srv.URL).PageText(context.Background(), "newyanbao_main", "p42")
	var upstreamErr *domain.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusNotFound, upstreamErr.Status)
}
