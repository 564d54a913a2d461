package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/any-hub/offline-hub/internal/config"
)

// AppRoute 将 App 配置与派生属性（解析后的源站 URL、激活模式）聚合在一起，
// 供路由/代理层直接复用，避免重复解析配置。
type AppRoute struct {
	// Config 是 config.toml 中声明的 App 字段副本。
	Config config.AppConfig
	// ListenPort 记录当前监听端口，方便日志输出。
	ListenPort int
	// OriginURL 在构造 Registry 时提前解析完成。
	OriginURL *url.URL
	// ActivationMode 为 auto 或 manual。
	ActivationMode string
}

// AppRegistry 提供 Host/Host:port 到 AppRoute 的查询能力，所有 App 共享同一个监听端口。
type AppRegistry struct {
	routes  map[string]*AppRoute
	ordered []*AppRoute
}

// NewAppRegistry 根据配置构建 Host 映射。调用方应在启动阶段创建一次并复用。
func NewAppRegistry(cfg *config.Config) (*AppRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &AppRegistry{
		routes: make(map[string]*AppRoute, len(cfg.Apps)),
	}

	for _, app := range cfg.Apps {
		normalizedHost := normalizeDomain(app.Domain)
		if normalizedHost == "" {
			return nil, fmt.Errorf("invalid domain for app %s", app.Name)
		}
		if _, exists := registry.routes[normalizedHost]; exists {
			return nil, fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
		}

		originURL, err := url.Parse(app.Origin)
		if err != nil {
			return nil, fmt.Errorf("invalid origin for app %s: %w", app.Name, err)
		}

		route := &AppRoute{
			Config:         app,
			ListenPort:     cfg.Global.ListenPort,
			OriginURL:      originURL,
			ActivationMode: app.ActivationMode(),
		}
		registry.routes[normalizedHost] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找 AppRoute。
func (r *AppRegistry) Lookup(host string) (*AppRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	route, ok := r.routes[normalizedHost]
	return route, ok
}

// List 按配置定义的顺序返回全部 AppRoute。
func (r *AppRegistry) List() []AppRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]AppRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
