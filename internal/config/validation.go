package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedStoreBackends = map[string]struct{}{
	StoreBackendFS:     {},
	StoreBackendBadger: {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, ok := supportedStoreBackends[strings.ToLower(g.StoreBackend)]; !ok {
		return newFieldError("Global.StoreBackend", "仅支持 fs|badger")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.DownloadConcurrency <= 0 {
		return newFieldError("Global.DownloadConcurrency", "必须大于 0")
	}

	if len(c.Apps) == 0 {
		return errors.New("至少需要配置一个 App")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]struct{}{}
	for i := range c.Apps {
		app := &c.Apps[i]
		if app.Name == "" {
			return newFieldError("App[].Name", "不能为空")
		}
		if strings.ContainsAny(app.Name, `/\ `) || app.Name == "." || app.Name == ".." {
			return newFieldError(appField(app.Name, "Name"), "不允许包含路径分隔符或空格")
		}
		if _, exists := seenNames[app.Name]; exists {
			return newFieldError(appField(app.Name, "Name"), "重复")
		}
		seenNames[app.Name] = struct{}{}

		if err := validateDomain(app.Domain); err != nil {
			return fmt.Errorf("%s: %w", appField(app.Name, "Domain"), err)
		}
		domain := strings.ToLower(app.Domain)
		if _, exists := seenDomains[domain]; exists {
			return newFieldError(appField(app.Name, "Domain"), "重复")
		}
		seenDomains[domain] = struct{}{}

		if err := validateOrigin(app.Origin); err != nil {
			return fmt.Errorf("%s: %w", appField(app.Name, "Origin"), err)
		}
		if app.Manifest == "" {
			return newFieldError(appField(app.Name, "Manifest"), "不能为空")
		}
	}

	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

// validateOrigin 要求源站为不带查询串与片段的 http/https 地址。
func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("源站不应包含查询串或片段: %s", raw)
	}
	return nil
}
