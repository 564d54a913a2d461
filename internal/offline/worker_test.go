package offline

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/any-hub/offline-hub/internal/cache"
)

var shellFiles = map[string]string{
	"/":             "<html>v1</html>",
	"/index.html":   "<html>v1</html>",
	"/main.dart.js": "main v1",
	"/a.js":         "a v1",
	"/b.js":         "b v1",
}

func TestInstallFetchesCoreIntoTemp(t *testing.T) {
	env := newWorkerEnv(t, shellFiles)
	m := mustManifest(t, map[string]string{"/": "r0", "main.dart.js": "m0", "a.js": "a0"}, "/", "main.dart.js")
	w := env.worker(t, m)

	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("install error: %v", err)
	}
	if w.Phase() != PhaseInstalled {
		t.Fatalf("expected installed phase, got %s", w.Phase())
	}
	if !w.SkipWaiting() {
		t.Fatalf("auto activation should request skip waiting")
	}
	if got := env.keys(t, cache.BucketTemp); !equalKeys(got, "/", "main.dart.js") {
		t.Fatalf("unexpected temp keys: %v", got)
	}
	if got := env.keys(t, cache.BucketContent); len(got) != 0 {
		t.Fatalf("install must not touch content, got %v", got)
	}
	header := env.origin.lastHeader("/main.dart.js")
	if header.Get("Cache-Control") != "no-cache" || header.Get("Pragma") != "no-cache" {
		t.Fatalf("install should bypass intermediate caches, got %v", header)
	}
	if env.origin.hitCount("/a.js") != 0 {
		t.Fatalf("non-core resources must not be prefetched")
	}
}

func TestInstallIsAllOrNothing(t *testing.T) {
	env := newWorkerEnv(t, shellFiles)
	env.origin.fail("/main.dart.js", http.StatusInternalServerError)
	m := mustManifest(t, map[string]string{"/": "r0", "main.dart.js": "m0"}, "/", "main.dart.js")
	w := env.worker(t, m)

	err := w.Install(context.Background())
	if !errors.Is(err, ErrFetchFailure) {
		t.Fatalf("expected ErrFetchFailure, got %v", err)
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Key != "main.dart.js" || fetchErr.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected fetch error detail: %#v", fetchErr)
	}
	if w.Phase() != PhaseRedundant {
		t.Fatalf("failed install should be redundant, got %s", w.Phase())
	}
	if got := env.keys(t, cache.BucketTemp); len(got) != 0 {
		t.Fatalf("failed install must not write temp, got %v", got)
	}
}

func TestManualActivationDoesNotSkipWaiting(t *testing.T) {
	env := newWorkerEnv(t, shellFiles)
	opts := env.options(mustManifest(t, map[string]string{"/": "r0"}, "/"))
	opts.ManualActivation = true
	w, err := NewWorker(opts)
	if err != nil {
		t.Fatalf("worker error: %v", err)
	}
	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("install error: %v", err)
	}
	if w.SkipWaiting() {
		t.Fatalf("manual activation must wait for skipWaiting")
	}
}

func TestActivateColdStart(t *testing.T) {
	env := newWorkerEnv(t, shellFiles)
	stale := cache.Locator{Namespace: testApp, Bucket: cache.BucketContent, Key: "stale.js"}
	if _, err := env.store.Put(context.Background(), stale, bytes.NewReader([]byte("old")), cache.PutOptions{}); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	m := mustManifest(t, map[string]string{"/": "r0", "main.dart.js": "m0", "a.js": "a0"}, "/", "main.dart.js")
	w := env.deploy(t, m)

	if w.Phase() != PhaseActivated {
		t.Fatalf("expected activated, got %s", w.Phase())
	}
	if got := env.keys(t, cache.BucketContent); !equalKeys(got, "/", "main.dart.js") {
		t.Fatalf("cold start should leave exactly the core entries, got %v", got)
	}
	if got := env.keys(t, cache.BucketTemp); len(got) != 0 {
		t.Fatalf("temp should be dropped, got %v", got)
	}
	if got := env.keys(t, cache.BucketManifest); !equalKeys(got, manifestRecordKey) {
		t.Fatalf("manifest record missing, got %v", got)
	}
	encoded, _ := m.Encode()
	if env.body(t, cache.BucketManifest, manifestRecordKey) != string(encoded) {
		t.Fatalf("persisted manifest mismatch")
	}
	if env.body(t, cache.BucketContent, "main.dart.js") != "main v1" {
		t.Fatalf("core entry body mismatch")
	}
}

func TestActivateEvictsChangedChecksum(t *testing.T) {
	for name, newEnv := range map[string]func(*testing.T, map[string]string) *workerEnv{
		"fs":     newWorkerEnv,
		"badger": newBadgerWorkerEnv,
	} {
		t.Run(name, func(t *testing.T) {
			testActivateEvictsChangedChecksum(t, newEnv(t, shellFiles))
		})
	}
}

func testActivateEvictsChangedChecksum(t *testing.T, env *workerEnv) {
	ctx := context.Background()

	first := env.deploy(t, mustManifest(t, map[string]string{"/": "r0", "a.js": "md5-0", "b.js": "b0"}, "/"))
	for _, path := range []string{"/a.js", "/b.js"} {
		if _, err := first.Fetch(ctx, http.MethodGet, path); err != nil {
			t.Fatalf("warm %s error: %v", path, err)
		}
	}

	env.origin.set("/a.js", "a v2")
	env.origin.set("/b.js", "b v2 (should stay cached)")
	env.origin.set("/", "<html>v2</html>")

	second := env.deploy(t, mustManifest(t, map[string]string{"/": "r1", "a.js": "md5-1", "b.js": "b0"}, "/"))

	if got := env.keys(t, cache.BucketContent); !equalKeys(got, "/", "b.js") {
		t.Fatalf("a.js should be evicted, got %v", got)
	}
	if env.body(t, cache.BucketContent, "b.js") != "b v1" {
		t.Fatalf("unchanged checksum must keep cached bytes")
	}
	if env.body(t, cache.BucketContent, "/") != "<html>v2</html>" {
		t.Fatalf("core entry should be refreshed")
	}

	resp, err := second.Fetch(ctx, http.MethodGet, "/a.js")
	if err != nil {
		t.Fatalf("fetch a.js error: %v", err)
	}
	if resp.Source != SourceNetwork || string(resp.Body) != "a v2" {
		t.Fatalf("evicted key should come from network, got %s %q", resp.Source, resp.Body)
	}
	if env.origin.hitCount("/a.js") != 2 {
		t.Fatalf("expected two origin hits for a.js, got %d", env.origin.hitCount("/a.js"))
	}
}

func TestActivateEvictsRemovedKeys(t *testing.T) {
	env := newWorkerEnv(t, shellFiles)
	ctx := context.Background()

	first := env.deploy(t, mustManifest(t, map[string]string{"/": "r0", "a.js": "a0", "b.js": "b0"}, "/"))
	for _, path := range []string{"/a.js", "/b.js"} {
		if _, err := first.Fetch(ctx, http.MethodGet, path); err != nil {
			t.Fatalf("warm %s error: %v", path, err)
		}
	}

	env.deploy(t, mustManifest(t, map[string]string{"/": "r0", "a.js": "a0"}, "/"))
	if got := env.keys(t, cache.BucketContent); !equalKeys(got, "/", "a.js") {
		t.Fatalf("removed key should be evicted, got %v", got)
	}
}

func TestActivateFailureClearsEveryBucket(t *testing.T) {
	env := newWorkerEnv(t, shellFiles)
	ctx := context.Background()
	record := cache.Locator{Namespace: testApp, Bucket: cache.BucketManifest, Key: manifestRecordKey}
	if _, err := env.store.Put(ctx, record, bytes.NewReader([]byte("{broken")), cache.PutOptions{}); err != nil {
		t.Fatalf("seed error: %v", err)
	}
	content := cache.Locator{Namespace: testApp, Bucket: cache.BucketContent, Key: "a.js"}
	if _, err := env.store.Put(ctx, content, bytes.NewReader([]byte("a")), cache.PutOptions{}); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	w := env.worker(t, mustManifest(t, map[string]string{"/": "r0", "a.js": "a0"}, "/"))
	if err := w.Install(ctx); err != nil {
		t.Fatalf("install error: %v", err)
	}
	err := w.Activate(ctx)
	if !errors.Is(err, ErrMigrationFailure) {
		t.Fatalf("expected ErrMigrationFailure, got %v", err)
	}
	if w.Phase() != PhaseActivated {
		t.Fatalf("worker still takes control after a failed migration, got %s", w.Phase())
	}
	for _, bucket := range cache.AllBuckets() {
		if got := env.keys(t, bucket); len(got) != 0 {
			t.Fatalf("bucket %s should be empty, got %v", bucket, got)
		}
	}
}

func TestNewWorkerValidatesOptions(t *testing.T) {
	env := newWorkerEnv(t, shellFiles)
	base := env.options(mustManifest(t, map[string]string{"/": "r0"}, "/"))

	cases := map[string]func(o *Options){
		"app":      func(o *Options) { o.App = "" },
		"origin":   func(o *Options) { o.Origin = nil },
		"manifest": func(o *Options) { o.Manifest = nil },
		"store":    func(o *Options) { o.Store = nil },
		"network":  func(o *Options) { o.Network = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			opts := base
			mutate(&opts)
			if _, err := NewWorker(opts); err == nil {
				t.Fatalf("expected error when %s is missing", name)
			}
		})
	}
}
