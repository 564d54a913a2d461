package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/manifest"
)

const (
	StrategyOnlineFirst = "online-first"
	StrategyCacheFirst  = "cache-first"
)

// StrategyFor 返回逻辑键使用的策略：根文档 online-first，其余 cache-first。
func StrategyFor(key string) string {
	if key == manifest.RootKey {
		return StrategyOnlineFirst
	}
	return StrategyCacheFirst
}

// Fetch 拦截一次请求。非 GET 或不在清单中的键返回 ErrNotIntercepted，由调用方直连源站。
// 根文档 "/" 走 online-first，其余键走 cache-first 并按需回填。
func (w *Worker) Fetch(ctx context.Context, method, rawURL string) (*Response, error) {
	if method != http.MethodGet {
		return nil, ErrNotIntercepted
	}
	key := manifest.KeyFor(w.origin, rawURL)
	if !w.manifest.Has(key) {
		return nil, ErrNotIntercepted
	}

	target := w.requestURL(rawURL)
	strategy := StrategyFor(key)

	var (
		resp *Response
		err  error
	)
	if strategy == StrategyOnlineFirst {
		resp, err = w.onlineFirst(ctx, key, target)
	} else {
		resp, err = w.cacheFirst(ctx, key, target)
	}
	w.observeFetch(key, strategy, resp, err)
	return resp, err
}

// requestURL 将相对地址补全为源站绝对地址，片段不会发送给源站。
func (w *Worker) requestURL(rawURL string) string {
	full := rawURL
	if !strings.Contains(rawURL, "://") {
		if !strings.HasPrefix(full, "/") {
			full = "/" + full
		}
		full = strings.TrimRight(w.origin.String(), "/") + full
	}
	if idx := strings.Index(full, "#"); idx >= 0 {
		full = full[:idx]
	}
	return full
}

func (w *Worker) cacheFirst(ctx context.Context, key, target string) (*Response, error) {
	cached, err := w.readCached(ctx, key)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		w.fetchLog(key, StrategyCacheFirst, "").WithError(err).Warn("cache_read_failed")
	}

	resp, err := w.network.Fetch(ctx, target, false)
	if err != nil {
		return nil, withKey(err, key)
	}
	resp.Key = key
	if resp.OK() {
		w.storeCopy(ctx, resp, StrategyCacheFirst)
	}
	return resp, nil
}

func (w *Worker) onlineFirst(ctx context.Context, key, target string) (*Response, error) {
	resp, netErr := w.network.Fetch(ctx, target, false)
	if netErr == nil {
		resp.Key = key
		if resp.OK() {
			w.storeCopy(ctx, resp, StrategyOnlineFirst)
		}
		return resp, nil
	}

	cached, err := w.readCached(ctx, key)
	if err == nil {
		cached.Source = SourceFallback
		w.fetchLog(key, StrategyOnlineFirst, string(SourceFallback)).
			WithError(netErr).
			Warn("network_fallback")
		return cached, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		w.fetchLog(key, StrategyOnlineFirst, "").WithError(err).Warn("cache_read_failed")
	}
	return nil, fmt.Errorf("%w: %w", ErrNetworkUnavailable, withKey(netErr, key))
}

// storeCopy 写入 content 仓；写入失败只记录日志，不影响本次响应。
func (w *Worker) storeCopy(ctx context.Context, resp *Response, strategy string) {
	if err := w.putResponse(ctx, cache.BucketContent, resp); err != nil {
		w.fetchLog(resp.Key, strategy, string(resp.Source)).WithError(err).Warn("cache_write_failed")
	}
}

func (w *Worker) readCached(ctx context.Context, key string) (*Response, error) {
	result, err := w.store.Get(ctx, w.locator(cache.BucketContent, key))
	if err != nil {
		return nil, err
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	for name, values := range result.Entry.Header {
		header[name] = append([]string(nil), values...)
	}
	return &Response{
		Key:    key,
		Status: result.Entry.Status,
		Header: header,
		Body:   body,
		Source: SourceCache,
	}, nil
}

func (w *Worker) observeFetch(key, strategy string, resp *Response, err error) {
	source := "error"
	if err == nil && resp != nil {
		source = string(resp.Source)
	}
	w.metrics.ObserveFetch(w.app, strategy, source)

	entry := w.fetchLog(key, strategy, source)
	if err != nil {
		entry.WithError(err).Warn("fetch_failed")
		return
	}
	entry.WithField("status", resp.Status).Debug("fetch_complete")
}

func (w *Worker) fetchLog(key, strategy, source string) *logrus.Entry {
	return w.logger.WithFields(logging.AppFields(w.app, w.domain, key, strategy, source)).
		WithField("event", string(EventFetch))
}

// withKey 为 FetchError 补上逻辑键，便于日志定位。
func withKey(err error, key string) error {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) && fetchErr.Key == "" {
		fetchErr.Key = key
	}
	return err
}
