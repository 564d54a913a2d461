package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/manifest"
	"github.com/any-hub/offline-hub/internal/metrics"
)

// Phase 描述一个 Worker 在生命周期中的位置。
type Phase string

const (
	PhaseInstalling Phase = "installing"
	PhaseInstalled  Phase = "installed"
	PhaseActivating Phase = "activating"
	PhaseActivated  Phase = "activated"
	PhaseRedundant  Phase = "redundant"
)

// EventType 是生命周期事件的闭集，用作日志与指标标签。
type EventType string

const (
	EventInstall  EventType = "install"
	EventActivate EventType = "activate"
	EventFetch    EventType = "fetch"
	EventMessage  EventType = "message"
)

// manifestRecordKey 是持久化清单在 manifest 缓存仓中的固定键。
const manifestRecordKey = "manifest"

const defaultConcurrency = 4

// Options 描述构建 Worker 所需的依赖。
type Options struct {
	App              string
	Domain           string
	Origin           *url.URL
	Manifest         *manifest.Manifest
	Store            cache.Store
	Network          Network
	Logger           *logrus.Logger
	Metrics          *metrics.Metrics
	Concurrency      int
	ManualActivation bool
}

// Worker 是绑定到某一份清单的缓存代际。清单在 Worker 生命周期内不可变。
type Worker struct {
	app              string
	domain           string
	origin           *url.URL
	manifest         *manifest.Manifest
	store            cache.Store
	network          Network
	logger           *logrus.Logger
	metrics          *metrics.Metrics
	concurrency      int
	manualActivation bool

	mu          sync.RWMutex
	phase       Phase
	skipWaiting bool
}

// NewWorker 校验依赖并返回处于 installing 之前状态的 Worker。
func NewWorker(opts Options) (*Worker, error) {
	if opts.App == "" {
		return nil, errors.New("app name required")
	}
	if opts.Origin == nil {
		return nil, errors.New("origin required")
	}
	if opts.Manifest == nil {
		return nil, errors.New("manifest required")
	}
	if opts.Store == nil {
		return nil, errors.New("cache store required")
	}
	if opts.Network == nil {
		return nil, errors.New("network required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Worker{
		app:              opts.App,
		domain:           opts.Domain,
		origin:           opts.Origin,
		manifest:         opts.Manifest,
		store:            opts.Store,
		network:          opts.Network,
		logger:           logger,
		metrics:          opts.Metrics,
		concurrency:      concurrency,
		manualActivation: opts.ManualActivation,
	}, nil
}

// App 返回所属应用名称。
func (w *Worker) App() string { return w.app }

// Manifest 返回本代际的清单。
func (w *Worker) Manifest() *manifest.Manifest { return w.manifest }

// Phase 返回当前生命周期阶段。
func (w *Worker) Phase() Phase {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.phase
}

// SkipWaiting 报告 install 后是否应立即激活。
func (w *Worker) SkipWaiting() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skipWaiting
}

func (w *Worker) setPhase(phase Phase) {
	w.mu.Lock()
	w.phase = phase
	w.mu.Unlock()
}

func (w *Worker) requestSkipWaiting() {
	w.mu.Lock()
	w.skipWaiting = true
	w.mu.Unlock()
}

func (w *Worker) locator(bucket cache.Bucket, key string) cache.Locator {
	return cache.Locator{Namespace: w.app, Bucket: bucket, Key: key}
}

func (w *Worker) lifecycleLog(event EventType) *logrus.Entry {
	return w.logger.WithFields(logging.LifecycleFields(w.app, string(event), w.manifest.Digest()))
}

// fetchAll 并发拉取 keys，任何一个失败（传输错误或非 2xx）都使整批失败，结果只驻留内存。
func (w *Worker) fetchAll(ctx context.Context, keys []string, reload bool) (map[string]*Response, error) {
	results := make(map[string]*Response, len(keys))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.concurrency)
	for _, key := range keys {
		key := key
		group.Go(func() error {
			target := manifest.ResolveURL(w.origin, key)
			resp, err := w.network.Fetch(groupCtx, target, reload)
			if err != nil {
				var fetchErr *FetchError
				if errors.As(err, &fetchErr) {
					fetchErr.Key = key
					return fetchErr
				}
				return &FetchError{Key: key, URL: target, Err: err}
			}
			if !resp.OK() {
				return &FetchError{Key: key, URL: target, Status: resp.Status}
			}
			resp.Key = key
			mu.Lock()
			results[key] = resp
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (w *Worker) putResponse(ctx context.Context, bucket cache.Bucket, resp *Response) error {
	_, err := w.store.Put(ctx, w.locator(bucket, resp.Key), bytes.NewReader(resp.Body), cache.PutOptions{
		Status: resp.Status,
		Header: resp.Header,
	})
	if err != nil {
		return &FetchError{Key: resp.Key, URL: manifest.ResolveURL(w.origin, resp.Key), Status: resp.Status, Err: fmt.Errorf("store %s: %w", bucket, err)}
	}
	return nil
}
