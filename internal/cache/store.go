package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// Bucket 是一个逻辑缓存仓（temp/content/manifest），同一 App 下各自独立。
type Bucket string

const (
	// BucketTemp 在 install 阶段暂存应用外壳。
	BucketTemp Bucket = "temp"
	// BucketContent 是对外服务的持久缓存。
	BucketContent Bucket = "content"
	// BucketManifest 只保存上一次成功激活的资源清单。
	BucketManifest Bucket = "manifest"
)

// AllBuckets 按 content/temp/manifest 的顺序返回全部缓存仓。
func AllBuckets() []Bucket {
	return []Bucket{BucketContent, BucketTemp, BucketManifest}
}

// Store 负责管理缓存条目的读写。每个条目由正文与响应元数据（状态码 + 头部）组成。
// 单个键上的 Put/Remove 需要原子完成；多步操作（先查后写）不提供事务保证。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 将响应写入缓存，并产出新的 Entry 描述。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除单个条目，条目不存在时不报错。
	Remove(ctx context.Context, locator Locator) error

	// Keys 列出某个缓存仓内的全部键，顺序不作保证。缓存仓不存在时返回空列表。
	Keys(ctx context.Context, namespace string, bucket Bucket) ([]string, error)

	// Drop 删除整个缓存仓，等价于浏览器中的 caches.delete。
	Drop(ctx context.Context, namespace string, bucket Bucket) error

	// Close 释放底层资源。
	Close() error
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
	Status  int
	Header  http.Header
}

// Locator 唯一定位一个缓存条目（App 命名空间 + 缓存仓 + 请求键）。
type Locator struct {
	Namespace string
	Bucket    Bucket
	Key       string
}

// Entry 表示一次缓存命中结果，包含响应元数据与正文大小。
type Entry struct {
	Locator   Locator     `json:"locator"`
	Status    int         `json:"status"`
	Header    http.Header `json:"header,omitempty"`
	SizeBytes int64       `json:"size_bytes"`
	ModTime   time.Time   `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，便于代理层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidLocator 表示 Locator 缺少命名空间、缓存仓或键不合法。
	ErrInvalidLocator = errors.New("invalid cache locator")
)

func (l Locator) validate() error {
	if l.Namespace == "" || l.Bucket == "" {
		return ErrInvalidLocator
	}
	if l.Key == "" || l.Key == "." || l.Key == ".." {
		return ErrInvalidLocator
	}
	return nil
}

func normalizeStatus(status int) int {
	if status == 0 {
		return http.StatusOK
	}
	return status
}
