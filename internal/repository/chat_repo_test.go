package repository

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zxresearch/reportgate/internal/domain"
)

func TestListSessionsQuery(t *testing.T) {
	q := listSessionsQuery("alice", domain.ListSessionsOptions{From: 20, Size: 10})
	body, err := json.Marshal(q)
	require.NoError(t, err)

	assert.Contains(t, string(body), `"term":{"user_id":"alice"}`)
	assert.Contains(t, string(body), `"term":{"is_delete":false}`)
	assert.NotContains(t, string(body), `"match"`)
	assert.Contains(t, string(body), `"from":20`)
	assert.Contains(t, string(body), `"size":10`)
}

func TestListSessionsQueryIncludeDeletedAndKeyword(t *testing.T) {
	q := listSessionsQuery("alice", domain.ListSessionsOptions{
		IncludeDeleted: true,
		Keyword:        "quarterly",
	})
	body, err := json.Marshal(q)
	require.NoError(t, err)

	assert.NotContains(t, string(body), `"is_delete"`)
	assert.Contains(t, string(body), `"match":{"title":"quarterly"}`)
}

func TestDepartmentOf(t *testing.T) {
	assert.Equal(t, "research", departmentOf("research_zhang"))
	assert.Equal(t, "sales", departmentOf("sales_li_wei"))
	assert.Equal(t, "unknown", departmentOf("nounderscores"))
	assert.Equal(t, "unknown", departmentOf("_leading"))
}
