package domain

import "time"

// ChatMessage is a single turn in a session transcript. Timestamps are
// assigned by the store at persist time, never taken from the client.
type ChatMessage struct {
	Role           string     `json:"role" binding:"required"`
	Content        string     `json:"content" binding:"required"`
	IndexName      string     `json:"index_name,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	Documents      []Document `json:"documents,omitempty"`
	ShortIDMapping any        `json:"short_id_mapping,omitempty"`
}

// ChatSession is the persisted session aggregate. SessionID is immutable
// once assigned; re-submitting the same id overwrites the stored document.
type ChatSession struct {
	SessionID   string         `json:"session_id,omitempty"`
	UserID      string         `json:"user_id" binding:"required"`
	AIType      string         `json:"ai_type" binding:"required"`
	Title       string         `json:"title" binding:"required"`
	Messages    []ChatMessage  `json:"messages" binding:"required"`
	Model       string         `json:"model,omitempty"`
	TotalTokens *int           `json:"total_tokens,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitempty"`
	Timestamp   time.Time      `json:"timestamp,omitempty"`
	IsDelete    bool           `json:"is_delete"`
}

// ChatStreamRecord is one write-once log entry per streaming exchange.
// Its session id is freshly generated per exchange and is unrelated to
// any ChatSession id; Metadata carries the full original request body.
type ChatStreamRecord struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	AIType    string         `json:"ai_type"`
	Question  string         `json:"question"`
	Answer    string         `json:"answer"`
	Documents []Document     `json:"documents"`
	Model     string         `json:"model"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// UserSettings is an opaque JSON blob keyed by a settings identifier
// (a user id, or a reserved key such as "system_prompt").
type UserSettings struct {
	JSONData  string    `json:"json_data"`
	UpdatedAt time.Time `json:"updated_at"`
}

// APIResponse is the envelope used by the session-management endpoints.
// Store failures on those endpoints are reported as Success=false with an
// HTTP 200, favoring availability over a transport-level error.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ListSessionsOptions narrows a user's session listing.
type ListSessionsOptions struct {
	IncludeDeleted bool
	Keyword        string
	From           int
	Size           int
}

// UserSessionCount is one bucket of the per-user session aggregation.
type UserSessionCount struct {
	UserID       string `json:"user_id"`
	SessionCount int64  `json:"session_count"`
}

// StreamUsageRow is one row of the date-range usage report, drawn from
// the stream log.
type StreamUsageRow struct {
	UserID     string    `json:"user_id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	ClientType string    `json:"client_type,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DateRangeRequest bounds the usage report endpoints. Password gates both
// report endpoints; it is declared here rather than passed out of band.
type DateRangeRequest struct {
	StartDate time.Time `json:"start_date" binding:"required"`
	EndDate   time.Time `json:"end_date" binding:"required"`
	Password  string    `json:"password"`
}

// LoginRequest carries user login credentials.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UpdateSettingsRequest saves a settings blob under an identifier.
type UpdateSettingsRequest struct {
	ID       string `json:"id" binding:"required"`
	JSONData string `json:"json_data" binding:"required"`
	Password string `json:"password" binding:"required"`
}
