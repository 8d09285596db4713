package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zxresearch/reportgate/internal/auth"
	"github.com/zxresearch/reportgate/internal/config"
	"github.com/zxresearch/reportgate/internal/domain"
	"github.com/zxresearch/reportgate/internal/upstream"
	"go.uber.org/zap"
)

const (
	embeddingVersion  = 3
	defaultClientType = "api"
	systemPromptKey   = "system_prompt"
)

// StreamStore is the slice of the session store the relay needs.
type StreamStore interface {
	AppendStreamRecord(ctx context.Context, rec *domain.ChatStreamRecord) error
	GetSetting(ctx context.Context, key string) (string, error)
}

// StreamWriter receives relayed bytes. gin's ResponseWriter satisfies it.
type StreamWriter interface {
	io.Writer
	http.Flusher
}

// StreamService forwards chat requests to the upstream streaming endpoint,
// relays the raw byte stream downstream while reconstructing a transcript
// from it, and persists one stream record per exchange no matter how the
// stream ends.
type StreamService struct {
	cfg    *config.Config
	router *upstream.Router
	store  StreamStore
	logger *zap.Logger
	client *http.Client
}

// NewStreamService creates the relay service. The HTTP client has no
// overall timeout; each exchange is bounded by a per-request context
// deadline so that long streams are not cut off by the transport.
func NewStreamService(cfg *config.Config, router *upstream.Router, store StreamStore, logger *zap.Logger) *StreamService {
	return &StreamService{
		cfg:    cfg,
		router: router,
		store:  store,
		logger: logger,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: cfg.Stream.ConnectTimeout}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// ChatStream runs one streaming exchange. Errors are returned only while
// nothing has been written downstream; once relay has begun the client
// already holds a success status, so later failures are logged and the
// call returns nil. The stream record is persisted exactly once on every
// exit path.
func (s *StreamService) ChatStream(ctx context.Context, principal auth.Principal, req map[string]any, w StreamWriter) error {
	question, ok := req["question"].(string)
	if !ok || question == "" {
		return fmt.Errorf("%w: question", domain.ErrMissingField)
	}

	req["use_short_id"] = true
	req["embedding_version"] = embeddingVersion
	if _, ok := req["engine"]; !ok {
		req["engine"] = s.cfg.Stream.DefaultEngine
	}
	if _, ok := req["client_type"]; !ok {
		req["client_type"] = defaultClientType
	}

	if err := s.authorize(principal, req); err != nil {
		return err
	}

	aiType, _ := req["with_remote_context"].(string)
	url, err := s.router.Resolve(aiType, upstream.OpChatStream)
	if err != nil {
		return err
	}

	s.injectSystemPrompt(ctx, req)

	rec := &domain.ChatStreamRecord{
		SessionID: uuid.New().String(),
		UserID:    principal.UserID(),
		AIType:    aiType,
		Question:  question,
		Documents: []domain.Document{},
		Metadata:  req,
	}
	agg := newStreamAggregator(guardConfig{
		ActivationChars: s.cfg.Stream.GuardActivationChars,
		MinLineChars:    s.cfg.Stream.GuardMinLineChars,
		RepeatThreshold: s.cfg.Stream.GuardRepeatThreshold,
	}, s.logger)

	// The persisted answer must reflect everything relayed downstream,
	// so persistence runs after the relay loop has fully exited, and it
	// runs even when the request context is already dead.
	defer func() {
		rec.Answer = agg.Answer()
		if docs := agg.Documents(); len(docs) > 0 {
			rec.Documents = docs
		}
		rec.CreatedAt = time.Now()

		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.store.AppendStreamRecord(pctx, rec); err != nil {
			s.logger.Error("failed to persist stream record",
				zap.String("session_id", rec.SessionID), zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Stream.TotalTimeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	s.logger.Info("forwarding chat stream",
		zap.String("url", url),
		zap.String("session_id", rec.SessionID),
		zap.String("ai_type", aiType))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return domain.ErrUpstreamTimeout
		case errors.Is(err, context.Canceled):
			// client gone before the upstream answered; nothing to surface
			return nil
		default:
			return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return &domain.UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}

	return s.relay(ctx, resp.Body, w, agg)
}

// relay pumps upstream bytes downstream chunk by chunk, in arrival order,
// feeding each chunk to the aggregator after it has been written out.
func (s *StreamService) relay(ctx context.Context, body io.ReadCloser, w StreamWriter, agg *streamAggregator) error {
	buf := make([]byte, 16*1024)
	relayed := false

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				s.logger.Warn("client disconnected during relay", zap.Error(werr))
				return nil
			}
			w.Flush()
			relayed = true

			agg.Consume(buf[:n])
			if agg.Tripped() {
				// degenerate repeated output: cut the upstream off; the
				// triggering chunk has already been relayed and counted
				s.logger.Warn("repetition guard tripped, closing upstream connection")
				body.Close()
				return nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			if !relayed {
				switch {
				case errors.Is(readErr, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded:
					return domain.ErrUpstreamTimeout
				case errors.Is(readErr, context.Canceled):
					return nil
				default:
					return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, readErr)
				}
			}
			s.logger.Warn("upstream read failed mid-stream", zap.Error(readErr))
			return nil
		}
	}
}

// authorize enforces the entitlement superset check for static tokens.
// Claims-token principals skip it: they carry an identity, not an
// entitlement list, and their access is scoped elsewhere. This asymmetry
// is deliberate.
func (s *StreamService) authorize(principal auth.Principal, req map[string]any) error {
	if !principal.IsStatic() {
		return nil
	}
	entitlements, err := principal.Entitlements()
	if err != nil {
		return err
	}
	allowed := make(map[string]struct{}, len(entitlements))
	for _, e := range entitlements {
		allowed[e] = struct{}{}
	}

	for _, key := range []string{"index_name", "collection_name", "with_remote_context"} {
		v, ok := req[key].(string)
		if !ok || v == "" {
			continue
		}
		for _, requested := range strings.Split(v, ",") {
			if _, ok := allowed[requested]; !ok {
				return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, requested)
			}
		}
	}
	return nil
}

// injectSystemPrompt copies the system-wide prompt setting into the
// outgoing request. A missing or undecodable setting is not fatal.
func (s *StreamService) injectSystemPrompt(ctx context.Context, req map[string]any) {
	raw, err := s.store.GetSetting(ctx, systemPromptKey)
	if err != nil {
		s.logger.Warn("failed to load system prompt setting", zap.Error(err))
		return
	}
	if raw == "" {
		return
	}
	var settings struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		s.logger.Warn("system prompt setting is not valid JSON", zap.Error(err))
		return
	}
	if settings.Prompt != "" {
		req["additional_prompt"] = settings.Prompt
	}
}
