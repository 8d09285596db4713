package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zxresearch/reportgate/internal/domain"
)

type searchHits struct {
	Total struct {
		Value int64 `json:"value"`
	} `json:"total"`
	Hits []struct {
		Source json.RawMessage `json:"_source"`
	} `json:"hits"`
}

type searchResponse struct {
	Hits         searchHits                 `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

type termsBucket struct {
	Key      string `json:"key"`
	DocCount int64  `json:"doc_count"`
}

// UpsertSession writes a session keyed by its id; submitting the same id
// again overwrites the stored document rather than duplicating it.
func (s *Store) UpsertSession(ctx context.Context, sess *domain.ChatSession) error {
	now := time.Now()
	if sess.SessionID == "" {
		sess.SessionID = uuid.New().String()
	}
	sess.IsDelete = false
	sess.Timestamp = now
	sess.CreatedAt = now
	for i := range sess.Messages {
		ts := now
		sess.Messages[i].Timestamp = &ts
	}

	body, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	res, err := s.es.Index(ChatIndex, bytes.NewReader(body),
		s.es.Index.WithDocumentID(sess.SessionID),
		s.es.Index.WithContext(ctx),
	)
	return closeOK(res, err, "upsert session")
}

// AppendMessage atomically appends a message to a session's transcript via
// a scripted update, so concurrent appends to the same session do not lose
// writes. A non-nil totalTokens also updates the session's token count.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg domain.ChatMessage, totalTokens *int) error {
	now := time.Now()
	msg.Timestamp = &now

	update := map[string]any{
		"script": map[string]any{
			"source": `ctx._source.messages.add(params.new_message);
if (params.total_tokens != null) {
    ctx._source.total_tokens = params.total_tokens;
}`,
			"params": map[string]any{
				"new_message":  msg,
				"total_tokens": totalTokens,
			},
		},
	}
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}
	res, err := s.es.Update(ChatIndex, sessionID, bytes.NewReader(body), s.es.Update.WithContext(ctx))
	return closeOK(res, err, "append message")
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	res, err := s.es.Get(ChatIndex, sessionID, s.es.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: get session: %v", domain.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: get session: %s", domain.ErrStoreUnavailable, res.String())
	}

	var doc struct {
		Source domain.ChatSession `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode session: %v", domain.ErrStoreUnavailable, err)
	}
	return &doc.Source, nil
}

func listSessionsQuery(userID string, opts domain.ListSessionsOptions) map[string]any {
	must := []map[string]any{
		{"term": map[string]any{"user_id": userID}},
	}
	if !opts.IncludeDeleted {
		must = append(must, map[string]any{"term": map[string]any{"is_delete": false}})
	}
	if opts.Keyword != "" {
		must = append(must, map[string]any{"match": map[string]any{"title": opts.Keyword}})
	}
	return map[string]any{
		"query": map[string]any{"bool": map[string]any{"must": must}},
		"sort":  []map[string]any{{"timestamp": map[string]any{"order": "desc"}}},
		"from":  opts.From,
		"size":  opts.Size,
	}
}

// ListSessions returns a user's sessions sorted by recency. Soft-deleted
// sessions are filtered out unless IncludeDeleted is set; a keyword
// narrows the listing to matching titles.
func (s *Store) ListSessions(ctx context.Context, userID string, opts domain.ListSessionsOptions) (int64, []domain.ChatSession, error) {
	body, err := json.Marshal(listSessionsQuery(userID, opts))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode query: %w", err)
	}

	sr, err := s.search(ctx, ChatIndex, body)
	if err != nil {
		return 0, nil, err
	}

	sessions := make([]domain.ChatSession, 0, len(sr.Hits.Hits))
	for _, hit := range sr.Hits.Hits {
		var sess domain.ChatSession
		if err := json.Unmarshal(hit.Source, &sess); err != nil {
			return 0, nil, fmt.Errorf("%w: decode session: %v", domain.ErrStoreUnavailable, err)
		}
		sessions = append(sessions, sess)
	}
	return sr.Hits.Total.Value, sessions, nil
}

// SoftDeleteSession flags a session as deleted; the document itself is
// never removed.
func (s *Store) SoftDeleteSession(ctx context.Context, sessionID string) error {
	body := []byte(`{"doc":{"is_delete":true}}`)
	res, err := s.es.Update(ChatIndex, sessionID, bytes.NewReader(body), s.es.Update.WithContext(ctx))
	return closeOK(res, err, "soft delete session")
}

// AppendStreamRecord inserts one write-once stream log entry. Records are
// never updated after insertion.
func (s *Store) AppendStreamRecord(ctx context.Context, rec *domain.ChatStreamRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode stream record: %w", err)
	}
	res, err := s.es.Index(ChatStreamIndex, bytes.NewReader(body), s.es.Index.WithContext(ctx))
	return closeOK(res, err, "append stream record")
}

// GetSetting returns the settings blob stored under a key, or "" when the
// key has never been written.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	res, err := s.es.Get(UserSettingsIndex, key, s.es.Get.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("%w: get setting: %v", domain.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if res.IsError() {
		return "", fmt.Errorf("%w: get setting: %s", domain.ErrStoreUnavailable, res.String())
	}

	var doc struct {
		Source domain.UserSettings `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("%w: decode setting: %v", domain.ErrStoreUnavailable, err)
	}
	return doc.Source.JSONData, nil
}

// PutSetting upserts a settings blob under a key, last write wins.
func (s *Store) PutSetting(ctx context.Context, key, jsonData string) error {
	body, err := json.Marshal(domain.UserSettings{JSONData: jsonData, UpdatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to encode setting: %w", err)
	}
	res, err := s.es.Index(UserSettingsIndex, bytes.NewReader(body),
		s.es.Index.WithDocumentID(key),
		s.es.Index.WithContext(ctx),
	)
	return closeOK(res, err, "put setting")
}

// ListUsers aggregates distinct user ids over the session index, ordered
// by session count.
func (s *Store) ListUsers(ctx context.Context, size int) ([]domain.UserSessionCount, error) {
	query := map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"unique_users": map[string]any{
				"terms": map[string]any{
					"field": "user_id",
					"size":  size,
					"order": map[string]any{"_count": "desc"},
				},
			},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	sr, err := s.search(ctx, ChatIndex, body)
	if err != nil {
		return nil, err
	}

	var agg struct {
		Buckets []termsBucket `json:"buckets"`
	}
	if raw, ok := sr.Aggregations["unique_users"]; ok {
		if err := json.Unmarshal(raw, &agg); err != nil {
			return nil, fmt.Errorf("%w: decode aggregation: %v", domain.ErrStoreUnavailable, err)
		}
	}

	users := make([]domain.UserSessionCount, 0, len(agg.Buckets))
	for _, b := range agg.Buckets {
		users = append(users, domain.UserSessionCount{UserID: b.Key, SessionCount: b.DocCount})
	}
	return users, nil
}

// SessionsByDateRange returns stream log rows created inside the window,
// newest first.
func (s *Store) SessionsByDateRange(ctx context.Context, start, end time.Time) (int64, []domain.StreamUsageRow, error) {
	query := map[string]any{
		"query": map[string]any{
			"range": map[string]any{
				"created_at": map[string]any{"gte": start, "lte": end},
			},
		},
		"sort": []map[string]any{{"created_at": map[string]any{"order": "desc"}}},
		"size": 10000,
	}
	body, err := json.Marshal(query)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode query: %w", err)
	}

	sr, err := s.search(ctx, ChatStreamIndex, body)
	if err != nil {
		return 0, nil, err
	}

	rows := make([]domain.StreamUsageRow, 0, len(sr.Hits.Hits))
	for _, hit := range sr.Hits.Hits {
		var rec domain.ChatStreamRecord
		if err := json.Unmarshal(hit.Source, &rec); err != nil {
			return 0, nil, fmt.Errorf("%w: decode stream record: %v", domain.ErrStoreUnavailable, err)
		}
		row := domain.StreamUsageRow{
			UserID:    rec.UserID,
			Question:  rec.Question,
			Answer:    rec.Answer,
			CreatedAt: rec.CreatedAt,
		}
		if ct, ok := rec.Metadata["client_type"].(string); ok {
			row.ClientType = ct
		}
		rows = append(rows, row)
	}
	return sr.Hits.Total.Value, rows, nil
}

// DepartmentStats aggregates session counts per user and assistant variant
// inside a window. The caller folds user ids into departments.
func (s *Store) DepartmentStats(ctx context.Context, start, end time.Time) (map[string]map[string]int64, error) {
	query := map[string]any{
		"size": 0,
		"query": map[string]any{
			"bool": map[string]any{
				"must": []map[string]any{
					{"range": map[string]any{"timestamp": map[string]any{"gte": start, "lte": end}}},
					{"term": map[string]any{"is_delete": false}},
				},
			},
		},
		"aggs": map[string]any{
			"department_stats": map[string]any{
				"terms": map[string]any{"field": "user_id", "size": 1000},
				"aggs": map[string]any{
					"ai_type_stats": map[string]any{
						"terms": map[string]any{"field": "ai_type", "size": 100},
					},
				},
			},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	sr, err := s.search(ctx, ChatIndex, body)
	if err != nil {
		return nil, err
	}

	var agg struct {
		Buckets []struct {
			termsBucket
			AITypeStats struct {
				Buckets []termsBucket `json:"buckets"`
			} `json:"ai_type_stats"`
		} `json:"buckets"`
	}
	if raw, ok := sr.Aggregations["department_stats"]; ok {
		if err := json.Unmarshal(raw, &agg); err != nil {
			return nil, fmt.Errorf("%w: decode aggregation: %v", domain.ErrStoreUnavailable, err)
		}
	}

	stats := make(map[string]map[string]int64)
	for _, userBucket := range agg.Buckets {
		dept := departmentOf(userBucket.Key)
		if stats[dept] == nil {
			stats[dept] = make(map[string]int64)
		}
		for _, ab := range userBucket.AITypeStats.Buckets {
			stats[dept][ab.Key] += ab.DocCount
		}
	}
	return stats, nil
}

// departmentOf derives the department from a user id shaped like
// <department>_<user>.
func departmentOf(userID string) string {
	if i := strings.Index(userID, "_"); i > 0 {
		return userID[:i]
	}
	return "unknown"
}

func (s *Store) search(ctx context.Context, index string, body []byte) (*searchResponse, error) {
	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(index),
		s.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", domain.ErrStoreUnavailable, index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("%w: search %s: %s", domain.ErrStoreUnavailable, index, res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("%w: decode search response: %v", domain.ErrStoreUnavailable, err)
	}
	return &sr, nil
}
