package upstream

import (
	"fmt"

	"github.com/zxresearch/reportgate/internal/config"
	"github.com/zxresearch/reportgate/internal/domain"
)

// Operation names understood by the router.
const (
	OpChatStream   = "CHAT_STREAM"
	OpParaInfo     = "PARA_INFO"
	OpTableInfo    = "TABLE_INFO"
	OpPDFPageFile  = "PDF_PAGE_FILE"
	OpPDFFile      = "PDF_FILE"
	OpTableFile    = "TABLE_FILE"
	OpFigureInfo   = "FIGURE_INFO"
	OpPageInfo     = "PAGE_INFO"
	OpPageTextInfo = "PAGE_TEXT_INFO"
	OpPageHTMLInfo = "PAGE_HTML_INFO"
	OpBigDataQuery = "BIGDATA_QUERY"
)

var defaultPaths = map[string]string{
	OpChatStream:   "/agent/yanbao_qa_new/chat_stream",
	OpParaInfo:     "/para",
	OpTableInfo:    "/table_figure",
	OpPDFPageFile:  "/pdf/page_pdf",
	OpPDFFile:      "/pdf/doc_pdf",
	OpTableFile:    "/table_figure",
	OpFigureInfo:   "/figure",
	OpPageInfo:     "/page",
	OpPageTextInfo: "/page_text",
	OpPageHTMLInfo: "/page_html",
	OpBigDataQuery: "/query",
}

// remoteCollections is the allow-list of collection identifiers served by
// the remote address family. Comma-joined identifiers are matched as whole
// strings, so only the listed combinations route remotely.
var remoteCollections = map[string]bool{
	"newyanbao_main":                    true,
	"newyanbao_eng_main":                true,
	"notice_main":                       true,
	"news_main":                         true,
	"jiyao_main":                        true,
	"newyanbao_main,newyanbao_eng_main": true,
	"newyanbao_eng_main,newyanbao_main": true,
}

// Router maps a collection identifier plus an operation name to a concrete
// upstream URL. The tables are built once from config and never change.
type Router struct {
	remote map[string]string
	local  map[string]string
}

// NewRouter builds the per-family endpoint tables. Chat streaming shares
// one base for both families with family-specific paths; every other
// operation pairs a shared path with a family-specific base.
func NewRouter(cfg config.UpstreamConfig) *Router {
	remote := make(map[string]string, len(defaultPaths))
	local := make(map[string]string, len(defaultPaths))

	for op, defaultPath := range defaultPaths {
		path := defaultPath
		if override := cfg.Paths[op]; override != "" {
			path = override
		}
		localPath := path
		if override := cfg.CustomPaths[op]; override != "" {
			localPath = override
		}

		if op == OpChatStream {
			remote[op] = cfg.ChatBase + path
			local[op] = cfg.ChatBase + localPath
			continue
		}
		remote[op] = cfg.OtherBase + path
		local[op] = cfg.CustomOtherBase + localPath
	}

	return &Router{remote: remote, local: local}
}

// Resolve returns the upstream URL for an operation, selecting the remote
// family when the collection identifier is on the allow-list.
func (r *Router) Resolve(collection, operation string) (string, error) {
	table := r.local
	if remoteCollections[collection] {
		table = r.remote
	}
	url, ok := table[operation]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownOperation, operation)
	}
	return url, nil
}
