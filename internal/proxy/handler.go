package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/manifest"
	"github.com/any-hub/offline-hub/internal/offline"
	"github.com/any-hub/offline-hub/internal/server"
)

const (
	headerSource = "X-Offline-Hub-Source"
	headerApp    = "X-Offline-Hub-App"

	sourcePassthrough = "passthrough"
)

// Handler 先把请求交给 App 的离线缓存管理器；未被拦截的请求（非 GET、清单外路径）
// 直接透传到源站，不做缓存。
type Handler struct {
	client *http.Client
	logger *logrus.Logger
}

// NewHandler constructs a handler sharing the upstream HTTP client and logger.
func NewHandler(client *http.Client, logger *logrus.Logger) *Handler {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		client: client,
		logger: logger,
	}
}

// Serve 实现 AppHandler。
func (h *Handler) Serve(c fiber.Ctx, route *server.AppRoute, controller *offline.Controller) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rawURL := requestURI(c)
	resp, err := controller.Fetch(ctx, c.Method(), rawURL)
	switch {
	case err == nil:
		return h.writeResponse(c, route, resp, requestID, started)
	case errors.Is(err, offline.ErrNotIntercepted):
		return h.passthrough(c, route, requestID, started)
	case errors.Is(err, offline.ErrNetworkUnavailable):
		h.logResult(route, manifest.KeyFor(route.OriginURL, rawURL), "", requestID, 0, started, err)
		return h.writeError(c, route, requestID, fiber.StatusBadGateway, "network_unavailable")
	default:
		h.logResult(route, manifest.KeyFor(route.OriginURL, rawURL), "", requestID, 0, started, err)
		return h.writeError(c, route, requestID, fiber.StatusBadGateway, "fetch_failed")
	}
}

func (h *Handler) writeResponse(c fiber.Ctx, route *server.AppRoute, resp *offline.Response, requestID string, started time.Time) error {
	copyResponseHeaders(c, resp.Header)
	c.Set(headerSource, string(resp.Source))
	c.Set(headerApp, route.Config.Name)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)
	h.logResult(route, resp.Key, string(resp.Source), requestID, resp.Status, started, nil)
	return c.Send(resp.Body)
}

// passthrough 把请求原样转发到源站并流式返回，响应不会写入缓存。
func (h *Handler) passthrough(c fiber.Ctx, route *server.AppRoute, requestID string, started time.Time) error {
	upstream := resolveUpstreamURL(route.OriginURL, c)
	req, err := h.buildUpstreamRequest(c, upstream, route)
	if err != nil {
		h.logResult(route, "", sourcePassthrough, requestID, 0, started, err)
		return h.writeError(c, route, requestID, fiber.StatusBadGateway, "upstream_failed")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.logResult(route, "", sourcePassthrough, requestID, 0, started, err)
		return h.writeError(c, route, requestID, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set(headerSource, sourcePassthrough)
	c.Set(headerApp, route.Config.Name)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.logResult(route, "", sourcePassthrough, requestID, resp.StatusCode, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, "", sourcePassthrough, requestID, resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) buildUpstreamRequest(c fiber.Ctx, upstream *url.URL, route *server.AppRoute) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var body io.Reader = http.NoBody
	if raw := c.Body(); len(raw) > 0 {
		body = strings.NewReader(string(raw))
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), upstream.String(), body)
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Host = upstream.Host
	req.Header.Set("Host", upstream.Host)
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())
	req.Header.Set("X-Forwarded-Port", routePort(route))
	return req, nil
}

func (h *Handler) writeError(c fiber.Ctx, route *server.AppRoute, requestID string, status int, code string) error {
	c.Set(headerApp, route.Config.Name)
	setRequestIDHeader(c, requestID)
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.AppRoute,
	key string,
	source string,
	requestID string,
	status int,
	started time.Time,
	err error,
) {
	strategy := sourcePassthrough
	if source != sourcePassthrough {
		strategy = offline.StrategyFor(key)
	}
	fields := logging.AppFields(route.Config.Name, route.Config.Domain, key, strategy, source)
	fields["action"] = "proxy"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// requestURI 返回 path + query，作为相对源站的请求地址。
func requestURI(c fiber.Ctx) string {
	uri := c.Request().URI()
	p := string(uri.Path())
	if p == "" {
		p = "/"
	}
	if query := uri.QueryString(); len(query) > 0 {
		return p + "?" + string(query)
	}
	return p
}

// resolveUpstreamURL 拼接源站前缀与请求路径，保留源站自身的路径前缀。
func resolveUpstreamURL(origin *url.URL, c fiber.Ctx) *url.URL {
	uri := c.Request().URI()
	clean := path.Clean("/" + string(uri.Path()))
	if strings.HasSuffix(string(uri.Path()), "/") && clean != "/" {
		clean += "/"
	}

	target := *origin
	target.Path = strings.TrimRight(origin.Path, "/") + clean
	target.RawPath = ""
	target.RawQuery = string(uri.QueryString())
	target.Fragment = ""
	return &target
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}

func routePort(route *server.AppRoute) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return fmt.Sprintf("%d", route.ListenPort)
}
