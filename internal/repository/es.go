package repository

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/zxresearch/reportgate/internal/config"
	"github.com/zxresearch/reportgate/internal/domain"
	"go.uber.org/zap"
)

// Index names used by the store.
const (
	ChatIndex         = "new_llm_chat_records"
	ChatStreamIndex   = "new_llm_chat_log"
	UserSettingsIndex = "new_user_settings"
)

const chatMapping = `{
  "mappings": {
    "properties": {
      "session_id": {"type": "keyword"},
      "timestamp": {"type": "date"},
      "user_id": {"type": "keyword"},
      "ai_type": {"type": "keyword"},
      "is_delete": {"type": "boolean", "null_value": false},
      "title": {
        "type": "text",
        "fields": {"keyword": {"type": "keyword", "ignore_above": 256}}
      },
      "messages": {
        "type": "nested",
        "properties": {
          "role": {"type": "keyword"},
          "index_name": {"type": "keyword"},
          "content": {"type": "text"},
          "timestamp": {"type": "date"},
          "documents": {
            "type": "nested",
            "properties": {
              "sid": {"type": "keyword"},
              "ID": {"type": "keyword"},
              "标题": {
                "type": "text",
                "fields": {"keyword": {"type": "keyword", "ignore_above": 256}}
              },
              "发布机构": {"type": "keyword"},
              "作者": {"type": "text"},
              "日期": {"type": "date"},
              "类型": {"type": "keyword"}
            }
          }
        }
      },
      "model": {"type": "keyword"},
      "total_tokens": {"type": "integer"},
      "metadata": {"type": "object"},
      "created_at": {"type": "date"}
    }
  },
  "settings": {"number_of_shards": 1, "number_of_replicas": 1}
}`

const chatStreamMapping = `{
  "mappings": {
    "properties": {
      "session_id": {"type": "keyword"},
      "user_id": {"type": "keyword"},
      "ai_type": {"type": "keyword"},
      "question": {"type": "text"},
      "answer": {"type": "text"},
      "documents": {
        "type": "nested",
        "properties": {
          "sid": {"type": "keyword"},
          "ID": {"type": "keyword"},
          "标题": {
            "type": "text",
            "fields": {"keyword": {"type": "keyword", "ignore_above": 256}}
          },
          "发布机构": {"type": "keyword"},
          "作者": {"type": "text"},
          "日期": {"type": "date"},
          "类型": {"type": "keyword"}
        }
      },
      "metadata": {"type": "object"},
      "model": {"type": "keyword"},
      "created_at": {"type": "date"}
    }
  },
  "settings": {"number_of_shards": 1, "number_of_replicas": 1}
}`

const userSettingsMapping = `{
  "mappings": {
    "properties": {
      "json_data": {"type": "text"},
      "updated_at": {"type": "date"}
    }
  },
  "settings": {"number_of_shards": 1, "number_of_replicas": 1}
}`

// Store wraps the process-wide Elasticsearch client. A single instance is
// constructed at startup and shared by every handler; the underlying
// client is safe for concurrent use.
type Store struct {
	es     *elasticsearch.Client
	logger *zap.Logger
}

// NewStore connects to the search backend and ensures the indices exist.
// Index creation failures are logged but not fatal: the indices may
// already exist or be managed externally.
func NewStore(cfg config.ElasticConfig, logger *zap.Logger) (*Store, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	s := &Store{es: es, logger: logger}
	s.initIndices(context.Background())
	return s, nil
}

func (s *Store) initIndices(ctx context.Context) {
	for index, mapping := range map[string]string{
		ChatIndex:         chatMapping,
		ChatStreamIndex:   chatStreamMapping,
		UserSettingsIndex: userSettingsMapping,
	} {
		s.ensureIndex(ctx, index, mapping)
	}
}

func (s *Store) ensureIndex(ctx context.Context, index, mapping string) {
	res, err := s.es.Indices.Exists([]string{index}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		s.logger.Error("failed to check index", zap.String("index", index), zap.Error(err))
		return
	}
	exists := res.StatusCode == http.StatusOK
	res.Body.Close()
	if exists {
		return
	}

	res, err = s.es.Indices.Create(index,
		s.es.Indices.Create.WithBody(strings.NewReader(mapping)),
		s.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		s.logger.Error("failed to create index", zap.String("index", index), zap.Error(err))
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		s.logger.Error("failed to create index", zap.String("index", index), zap.String("response", res.String()))
		return
	}
	s.logger.Info("created index", zap.String("index", index))
}

// closeOK drains a write response and converts failures into a wrapped
// ErrStoreUnavailable.
func closeOK(res *esapi.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: %s: %s", domain.ErrStoreUnavailable, op, res.String())
	}
	return nil
}
