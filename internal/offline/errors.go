package offline

import (
	"errors"
	"fmt"
)

var (
	// ErrNotIntercepted 表示请求不在清单内（或非 GET），应交由默认网络处理。
	ErrNotIntercepted = errors.New("request not intercepted")
	// ErrFetchFailure 表示网络请求或缓存写入失败。
	ErrFetchFailure = errors.New("fetch failure")
	// ErrNetworkUnavailable 表示 online-first 回源失败且没有可用缓存。
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrMigrationFailure 表示 activate 期间出现异常，缓存已被整体清空。
	ErrMigrationFailure = errors.New("migration failure")
	// ErrOfflineBatchFailure 表示 downloadOffline 批次中任意资源失败，整批放弃。
	ErrOfflineBatchFailure = errors.New("offline batch failure")
)

// FetchError 描述单个资源的获取失败，Status 为 0 表示传输层错误。
type FetchError struct {
	Key    string
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil && e.Key != "":
		return fmt.Sprintf("fetch %s (%s): %v", e.Key, e.URL, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s (%s): unexpected status %d", e.Key, e.URL, e.Status)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is 让所有 FetchError 都能匹配 ErrFetchFailure。
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailure
}
