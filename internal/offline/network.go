package offline

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/any-hub/offline-hub/internal/server"
)

// Source 标记响应来自缓存、网络还是 online-first 的缓存兜底。
type Source string

const (
	SourceCache    Source = "cache"
	SourceNetwork  Source = "network"
	SourceFallback Source = "fallback"
)

// Response 是拦截结果或一次源站请求的完整响应。资源体量较小，正文整体驻留内存。
type Response struct {
	Key    string
	Status int
	Header http.Header
	Body   []byte
	Source Source
}

// OK 对应 fetch API 的 response.ok（2xx）。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Network 抽象到源站的请求；reload 为 true 时绕过中间缓存（cache: 'reload'）。
type Network interface {
	Fetch(ctx context.Context, target string, reload bool) (*Response, error)
}

// HTTPFetcher 基于共享 http.Client 访问源站。
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher 使用 server.NewUpstreamClient 构建的客户端创建 Network。
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

// Fetch 发起 GET 请求；传输层错误包装为 *FetchError，非 2xx 状态照常返回。
func (f *HTTPFetcher) Fetch(ctx context.Context, target string, reload bool) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	if reload {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: target, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	// 正文已完整读取，长度以实际字节为准。
	header.Del("Content-Length")

	return &Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
		Source: SourceNetwork,
	}, nil
}
