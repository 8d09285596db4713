package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/zxresearch/reportgate/internal/domain"
	"github.com/zxresearch/reportgate/internal/upstream"
	"go.uber.org/zap"
)

const (
	infoTimeout    = 30 * time.Second
	bigDataTimeout = 300 * time.Second
)

// FileResult is a proxied binary artifact plus the headers the caller
// should reproduce downstream.
type FileResult struct {
	Content     []byte
	ContentType string
	Filename    string
	ETag        string
}

// ProxyService forwards single-shot document artifact requests to the
// upstream content services. No aggregation happens here; each call is
// one request, one response.
type ProxyService struct {
	router *upstream.Router
	client *resty.Client
	logger *zap.Logger
}

// NewProxyService creates the proxy service.
func NewProxyService(router *upstream.Router, logger *zap.Logger) *ProxyService {
	return &ProxyService{
		router: router,
		client: resty.New(),
		logger: logger,
	}
}

// ParaInfo fetches one paragraph record.
func (p *ProxyService) ParaInfo(ctx context.Context, aiType, paraID string) (json.RawMessage, error) {
	return p.getJSON(ctx, aiType, upstream.OpParaInfo, "/"+aiType+"/"+paraID)
}

// PageText fetches the plain-text rendering of a page.
func (p *ProxyService) PageText(ctx context.Context, aiType, paraID string) (string, error) {
	return p.getText(ctx, aiType, upstream.OpPageTextInfo, "/"+aiType+"/"+paraID)
}

// PageHTML fetches the HTML rendering of a page.
func (p *ProxyService) PageHTML(ctx context.Context, aiType, paraID string) (string, error) {
	return p.getText(ctx, aiType, upstream.OpPageHTMLInfo, "/"+aiType+"/"+paraID)
}

// TableInfo forwards a table lookup request.
func (p *ProxyService) TableInfo(ctx context.Context, indexName string, body map[string]any) (json.RawMessage, error) {
	return p.postJSON(ctx, indexName, upstream.OpTableInfo, body, infoTimeout)
}

// FigureInfo forwards a figure lookup request.
func (p *ProxyService) FigureInfo(ctx context.Context, indexName string, body map[string]any) (json.RawMessage, error) {
	return p.postJSON(ctx, indexName, upstream.OpFigureInfo, body, infoTimeout)
}

// PageInfo forwards a page lookup request.
func (p *ProxyService) PageInfo(ctx context.Context, indexName string, body map[string]any) (json.RawMessage, error) {
	return p.postJSON(ctx, indexName, upstream.OpPageInfo, body, infoTimeout)
}

// BigData forwards a long-running analytics query.
func (p *ProxyService) BigData(ctx context.Context, aiType, content string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, bigDataTimeout)
	defer cancel()
	return p.getJSON(ctx, aiType, upstream.OpBigDataQuery, "/"+content)
}

// TableFigureFile downloads a table or figure artifact for attachment
// delivery.
func (p *ProxyService) TableFigureFile(ctx context.Context, aiType, paraID string) (*FileResult, error) {
	url, err := p.router.Resolve(aiType, upstream.OpTableFile)
	if err != nil {
		return nil, err
	}
	return p.getFile(ctx, url+"/"+aiType+"/"+paraID, paraID, "application/octet-stream")
}

// PagePDF downloads a single PDF page. The result carries a content-hash
// ETag so responses can be cached long-term.
func (p *ProxyService) PagePDF(ctx context.Context, aiType, paraID, pageNum string) (*FileResult, error) {
	url, err := p.router.Resolve(aiType, upstream.OpPDFFile)
	if err != nil {
		return nil, err
	}
	res, err := p.getFile(ctx, url+"/"+paraID+"/"+pageNum, paraID, "application/pdf")
	if err != nil {
		return nil, err
	}
	sum := md5.Sum(res.Content)
	res.ETag = hex.EncodeToString(sum[:])
	return res, nil
}

func (p *ProxyService) getJSON(ctx context.Context, collection, operation, suffix string) (json.RawMessage, error) {
	url, err := p.router.Resolve(collection, operation)
	if err != nil {
		return nil, err
	}
	p.logRequest(url+suffix, "GET")

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		Get(url + suffix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode() != 200 {
		return nil, &domain.UpstreamError{Status: resp.StatusCode(), Body: string(resp.Body())}
	}
	return json.RawMessage(resp.Body()), nil
}

func (p *ProxyService) getText(ctx context.Context, collection, operation, suffix string) (string, error) {
	url, err := p.router.Resolve(collection, operation)
	if err != nil {
		return "", err
	}
	p.logRequest(url+suffix, "GET")

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain").
		Get(url + suffix)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode() != 200 {
		return "", &domain.UpstreamError{Status: resp.StatusCode(), Body: string(resp.Body())}
	}
	return string(resp.Body()), nil
}

func (p *ProxyService) postJSON(ctx context.Context, collection, operation string, body map[string]any, timeout time.Duration) (json.RawMessage, error) {
	url, err := p.router.Resolve(collection, operation)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p.logRequest(url, "POST")

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode() != 200 {
		return nil, &domain.UpstreamError{Status: resp.StatusCode(), Body: string(resp.Body())}
	}
	return json.RawMessage(resp.Body()), nil
}

func (p *ProxyService) getFile(ctx context.Context, url, fallbackName, fallbackType string) (*FileResult, error) {
	p.logRequest(url, "GET")

	resp, err := p.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode() != 200 {
		return nil, &domain.UpstreamError{Status: resp.StatusCode(), Body: string(resp.Body())}
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = fallbackType
	}
	return &FileResult{
		Content:     resp.Body(),
		ContentType: contentType,
		Filename:    filenameFrom(resp.Header().Get("Content-Disposition"), fallbackName),
	}, nil
}

func filenameFrom(contentDisposition, fallback string) string {
	if contentDisposition == "" {
		return fallback
	}
	parts := strings.Split(contentDisposition, "filename=")
	name := strings.Trim(parts[len(parts)-1], `"`)
	if name == "" {
		return fallback
	}
	return name
}

func (p *ProxyService) logRequest(url, method string) {
	p.logger.Info("forwarding request", zap.String("target", url), zap.String("method", method))
}
