package offline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/manifest"
)

const testApp = "shop"

// testOrigin 是可变内容的源站，记录每个路径的请求次数与请求头。
type testOrigin struct {
	t      *testing.T
	server *httptest.Server

	mu      sync.Mutex
	files   map[string]string
	status  map[string]int
	hits    map[string]int
	headers map[string]http.Header
}

func newTestOrigin(t *testing.T, files map[string]string) *testOrigin {
	t.Helper()
	o := &testOrigin{
		t:       t,
		files:   map[string]string{},
		status:  map[string]int{},
		hits:    map[string]int{},
		headers: map[string]http.Header{},
	}
	for path, body := range files {
		o.files[path] = body
	}
	o.server = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.server.Close)
	return o
}

func (o *testOrigin) serve(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	path := r.URL.Path
	o.hits[path]++
	o.headers[path] = r.Header.Clone()
	body, ok := o.files[path]
	status, forced := o.status[path]
	o.mu.Unlock()

	if forced {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, "forced status")
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("X-Origin-Path", path)
	_, _ = io.WriteString(w, body)
}

func (o *testOrigin) URL() *url.URL {
	parsed, err := url.Parse(o.server.URL)
	if err != nil {
		o.t.Fatalf("parse origin url: %v", err)
	}
	return parsed
}

func (o *testOrigin) set(path, body string) {
	o.mu.Lock()
	o.files[path] = body
	o.mu.Unlock()
}

func (o *testOrigin) fail(path string, status int) {
	o.mu.Lock()
	o.status[path] = status
	o.mu.Unlock()
}

func (o *testOrigin) hitCount(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func (o *testOrigin) lastHeader(path string) http.Header {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.headers[path]
}

// switchNetwork 可以在测试中模拟断网。
type switchNetwork struct {
	inner Network
	down  atomic.Bool
}

func (n *switchNetwork) Fetch(ctx context.Context, target string, reload bool) (*Response, error) {
	if n.down.Load() {
		return nil, &FetchError{URL: target, Err: errOffline}
	}
	return n.inner.Fetch(ctx, target, reload)
}

var errOffline = &url.Error{Op: "Get", URL: "offline", Err: io.ErrUnexpectedEOF}

type workerEnv struct {
	origin  *testOrigin
	store   cache.Store
	network *switchNetwork
}

func newWorkerEnv(t *testing.T, files map[string]string) *workerEnv {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	return newWorkerEnvWithStore(t, files, store)
}

// newBadgerWorkerEnv 与 newWorkerEnv 相同，但缓存落在内存 badger 中。
func newBadgerWorkerEnv(t *testing.T, files map[string]string) *workerEnv {
	t.Helper()
	store, err := cache.NewMemoryBadgerStore()
	if err != nil {
		t.Fatalf("badger store error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return newWorkerEnvWithStore(t, files, store)
}

func newWorkerEnvWithStore(t *testing.T, files map[string]string, store cache.Store) *workerEnv {
	t.Helper()
	origin := newTestOrigin(t, files)
	return &workerEnv{
		origin:  origin,
		store:   store,
		network: &switchNetwork{inner: NewHTTPFetcher(origin.server.Client())},
	}
}

func (e *workerEnv) options(m *manifest.Manifest) Options {
	return Options{
		App:         testApp,
		Domain:      "shop.local",
		Origin:      e.origin.URL(),
		Manifest:    m,
		Store:       e.store,
		Network:     e.network,
		Logger:      logging.Discard(),
		Concurrency: 2,
	}
}

func (e *workerEnv) worker(t *testing.T, m *manifest.Manifest) *Worker {
	t.Helper()
	w, err := NewWorker(e.options(m))
	if err != nil {
		t.Fatalf("worker error: %v", err)
	}
	return w
}

// deploy 依次执行 install 与 activate。
func (e *workerEnv) deploy(t *testing.T, m *manifest.Manifest) *Worker {
	t.Helper()
	w := e.worker(t, m)
	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("install error: %v", err)
	}
	if err := w.Activate(context.Background()); err != nil {
		t.Fatalf("activate error: %v", err)
	}
	return w
}

func (e *workerEnv) keys(t *testing.T, bucket cache.Bucket) []string {
	t.Helper()
	keys, err := e.store.Keys(context.Background(), testApp, bucket)
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	sort.Strings(keys)
	return keys
}

func (e *workerEnv) body(t *testing.T, bucket cache.Bucket, key string) string {
	t.Helper()
	result, err := e.store.Get(context.Background(), cache.Locator{Namespace: testApp, Bucket: bucket, Key: key})
	if err != nil {
		t.Fatalf("get %s/%s error: %v", bucket, key, err)
	}
	defer result.Reader.Close()
	raw, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read body error: %v", err)
	}
	return string(raw)
}

func mustManifest(t *testing.T, resources map[string]string, core ...string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.New(resources, core)
	if err != nil {
		t.Fatalf("manifest error: %v", err)
	}
	return m
}

func equalKeys(got []string, want ...string) bool {
	sort.Strings(want)
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
