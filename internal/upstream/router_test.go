package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zxresearch/reportgate/internal/config"
)

func testConfig() config.UpstreamConfig {
	return config.UpstreamConfig{
		ChatBase:        "http://chat.example.com/api",
		OtherBase:       "http://remote.example.com/api",
		CustomOtherBase: "http://local.example.com/api",
	}
}

func TestResolveRemoteVsLocal(t *testing.T) {
	r := NewRouter(testConfig())

	url, err := r.Resolve("newyanbao_main", OpParaInfo)
	require.NoError(t, err)
	assert.Equal(t, "http://remote.example.com/api/para", url)

	url, err = r.Resolve("some_other_collection", OpParaInfo)
	require.NoError(t, err)
	assert.Equal(t, "http://local.example.com/api/para", url)
}

func TestResolveCombinedCollections(t *testing.T) {
	r := NewRouter(testConfig())

	// only the listed comma-joined combinations route remotely
	url, err := r.Resolve("newyanbao_main,newyanbao_eng_main", OpTableInfo)
	require.NoError(t, err)
	assert.Equal(t, "http://remote.example.com/api/table_figure", url)

	url, err = r.Resolve("newyanbao_main,notice_main", OpTableInfo)
	require.NoError(t, err)
	assert.Equal(t, "http://local.example.com/api/table_figure", url)
}

func TestResolveChatStreamSharesBase(t *testing.T) {
	r := NewRouter(testConfig())

	remote, err := r.Resolve("newyanbao_main", OpChatStream)
	require.NoError(t, err)
	local, err := r.Resolve("anything_else", OpChatStream)
	require.NoError(t, err)

	assert.Equal(t, "http://chat.example.com/api/agent/yanbao_qa_new/chat_stream", remote)
	assert.Equal(t, remote, local)
}

func TestResolvePathOverrides(t *testing.T) {
	cfg := testConfig()
	cfg.Paths = map[string]string{OpParaInfo: "/v2/para"}
	cfg.CustomPaths = map[string]string{OpParaInfo: "/custom/para"}
	r := NewRouter(cfg)

	url, err := r.Resolve("newyanbao_main", OpParaInfo)
	require.NoError(t, err)
	assert.Equal(t, "http://remote.example.com/api/v2/para", url)

	url, err = r.Resolve("other", OpParaInfo)
	require.NoError(t, err)
	assert.Equal(t, "http://local.example.com/api/custom/para", url)
}

func TestResolveUnknownOperation(t *testing.T) {
	r := NewRouter(testConfig())

	_, err := r.Resolve("newyanbao_main", "NOT_AN_OPERATION")
	assert.Error(t, err)
}
