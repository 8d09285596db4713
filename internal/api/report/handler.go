package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zxresearch/reportgate/internal/api/middleware"
	"github.com/zxresearch/reportgate/internal/domain"
	"github.com/zxresearch/reportgate/internal/service"
	"go.uber.org/zap"
)

// Handler handles the streaming chat proxy and the document artifact
// proxies.
type Handler struct {
	streams *service.StreamService
	proxy   *service.ProxyService
	logger  *zap.Logger
}

// NewHandler creates a report handler.
func NewHandler(streams *service.StreamService, proxy *service.ProxyService, logger *zap.Logger) *Handler {
	return &Handler{streams: streams, proxy: proxy, logger: logger}
}

// RegisterRoutes registers report routes. The file-download and page
// endpoints are intentionally unauthenticated: they serve embeddable
// artifacts referenced from rendered answers.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth gin.HandlerFunc) {
	r.POST("/chat_stream", auth, h.ChatStream)
	r.GET("/para/:ai_type/:para_id", auth, h.ParaInfo)
	r.GET("/page_text/:ai_type/:para_id", auth, h.PageText)
	r.GET("/page_html/:ai_type/:para_id", auth, h.PageHTML)
	r.POST("/table_info", auth, h.TableInfo)
	r.POST("/figure_info", auth, h.FigureInfo)
	r.GET("/table_figure/:ai_type/:para_id", h.TableFigureFile)
	r.GET("/pdf/page_pdf/:para_id/:page_num/:ai_type", h.PagePDF)
	r.POST("/page", h.PageInfo)
	r.GET("/bigdata/:content/:ai_type", h.BigData)
}

// ChatStream relays the upstream token stream to the client as it
// arrives. Error statuses are only possible until the first relayed byte;
// after that the service logs failures and ends the stream.
func (h *Handler) ChatStream(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
		return
	}

	principal := middleware.PrincipalFrom(c)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")

	if err := h.streams.ChatStream(c.Request.Context(), principal, body, c.Writer); err != nil {
		h.writeStreamError(c, err)
	}
}

func (h *Handler) writeStreamError(c *gin.Context, err error) {
	// nothing has been written yet, the SSE content type can be replaced
	c.Header("Content-Type", "application/json; charset=utf-8")

	var upstreamErr *domain.UpstreamError
	switch {
	case errors.Is(err, domain.ErrMissingField):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case errors.Is(err, domain.ErrMalformedToken), errors.Is(err, domain.ErrPermissionDenied):
		c.JSON(http.StatusUnauthorized, gin.H{"detail": err.Error()})
	case errors.As(err, &upstreamErr):
		c.JSON(upstreamErr.Status, gin.H{"detail": fmt.Sprintf("error forwarding request: %s", upstreamErr.Body)})
	case errors.Is(err, domain.ErrUpstreamTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"detail": "request timed out"})
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "service unavailable"})
	default:
		h.logger.Error("chat stream failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
	}
}

// ParaInfo proxies one paragraph lookup.
func (h *Handler) ParaInfo(c *gin.Context) {
	raw, err := h.proxy.ParaInfo(c.Request.Context(), c.Param("ai_type"), c.Param("para_id"))
	if err != nil {
		h.writeProxyError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// PageText proxies the plain-text rendering of a page.
func (h *Handler) PageText(c *gin.Context) {
	text, err := h.proxy.PageText(c.Request.Context(), c.Param("ai_type"), c.Param("para_id"))
	if err != nil {
		h.writeProxyError(c, err)
		return
	}
	c.String(http.StatusOK, text)
}

// PageHTML proxies the HTML rendering of a page.
func (h *Handler) PageHTML(c *gin.Context) {
	text, err := h.proxy.PageHTML(c.Request.Context(), c.Param("ai_type"), c.Param("para_id"))
	if err != nil {
		h.writeProxyError(c, err)
		return
	}
	c.String(http.StatusOK, text)
}

// TableInfo proxies a table lookup.
func (h *Handler) TableInfo(c *gin.Context) {
	h.postProxy(c, h.proxy.TableInfo)
}

// FigureInfo proxies a figure lookup.
func (h *Handler) FigureInfo(c *gin.Context) {
	h.postProxy(c, h.proxy.FigureInfo)
}

// PageInfo proxies a page lookup.
func (h *Handler) PageInfo(c *gin.Context) {
	h.postProxy(c, h.proxy.PageInfo)
}

func (h *Handler) postProxy(c *gin.Context, call func(ctx context.Context, indexName string, body map[string]any) (json.RawMessage, error)) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
		return
	}
	indexName, _ := body["index_name"].(string)

	raw, err := call(c.Request.Context(), indexName, body)
	if err != nil {
		h.writeProxyError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// TableFigureFile downloads a table or figure artifact as an attachment.
func (h *Handler) TableFigureFile(c *gin.Context) {
	res, err := h.proxy.TableFigureFile(c.Request.Context(), c.Param("ai_type"), c.Param("para_id"))
	if err != nil {
		h.writeProxyError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	c.Data(http.StatusOK, res.ContentType, res.Content)
}

// PagePDF downloads a single PDF page with a content-hash ETag and a
// long-lived cache policy.
func (h *Handler) PagePDF(c *gin.Context) {
	res, err := h.proxy.PagePDF(c.Request.Context(), c.Param("ai_type"), c.Param("para_id"), c.Param("page_num"))
	if err != nil {
		h.writeProxyError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", res.Filename))
	c.Header("Cache-Control", "public, max-age=720000")
	c.Header("ETag", res.ETag)
	c.Data(http.StatusOK, res.ContentType, res.Content)
}

// BigData proxies a long-running analytics query.
func (h *Handler) BigData(c *gin.Context) {
	raw, err := h.proxy.BigData(c.Request.Context(), c.Param("ai_type"), c.Param("content"))
	if err != nil {
		h.writeProxyError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

func (h *Handler) writeProxyError(c *gin.Context, err error) {
	var upstreamErr *domain.UpstreamError
	switch {
	case errors.As(err, &upstreamErr):
		c.JSON(upstreamErr.Status, gin.H{"detail": fmt.Sprintf("target server returned %d", upstreamErr.Status)})
	case errors.Is(err, domain.ErrUnknownOperation):
		h.logger.Error("proxy routing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
	default:
		h.logger.Error("proxy request failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "service unavailable"})
	}
}
