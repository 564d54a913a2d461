package manifest

import (
	"net/url"
	"strings"
)

// versionMarker 是构建工具附加在资源 URL 上的缓存破坏参数。
const versionMarker = "?v="

// KeyFor 将请求 URL 转换为清单逻辑键：
//   - 去掉源站前缀与开头的 "/"；
//   - 在第一个 "?v=" 处截断；
//   - 源站本身、"源站/#..." 与空键都归一为 "/"。
//
// rawURL 可以是绝对地址，也可以是以 "/" 开头的相对地址（相对源站解析）。
func KeyFor(origin *url.URL, rawURL string) string {
	base := strings.TrimRight(origin.String(), "/")

	full := rawURL
	if !strings.Contains(rawURL, "://") {
		if !strings.HasPrefix(full, "/") {
			full = "/" + full
		}
		full = base + full
	}

	if full == base || strings.HasPrefix(full, base+"/#") {
		return RootKey
	}

	key := strings.TrimPrefix(full, base)
	key = strings.TrimPrefix(key, "/")
	if idx := strings.Index(key, versionMarker); idx >= 0 {
		key = key[:idx]
	}
	if key == "" {
		return RootKey
	}
	return key
}

// NormalizeStoredKey 将缓存仓中读出的键归一（空键视为根文档）。
func NormalizeStoredKey(key string) string {
	if key == "" {
		return RootKey
	}
	return key
}

// ResolveURL 返回逻辑键在源站下的绝对地址。
func ResolveURL(origin *url.URL, key string) string {
	base := strings.TrimRight(origin.String(), "/")
	if key == RootKey || key == "" {
		return base + "/"
	}
	return base + "/" + strings.TrimPrefix(key, "/")
}
