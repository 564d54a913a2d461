package offline

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/metrics"
)

func TestDownloadOfflineFetchesEveryMissingKeyOnce(t *testing.T) {
	env := newWorkerEnv(t, shellFiles)
	resources := map[string]string{"/": "r0", "index.html": "i0", "main.dart.js": "m0", "a.js": "a0", "b.js": "b0"}
	opts := env.options(mustManifest(t, resources, "/", "main.dart.js"))
	opts.Metrics = metrics.New(prometheus.NewRegistry())
	w, err := NewWorker(opts)
	if err != nil {
		t.Fatalf("worker error: %v", err)
	}
	ctx := context.Background()
	if err := w.Install(ctx); err != nil {
		t.Fatalf("install error: %v", err)
	}
	if err := w.Activate(ctx); err != nil {
		t.Fatalf("activate error: %v", err)
	}
	if _, err := w.Fetch(ctx, http.MethodGet, "/a.js"); err != nil {
		t.Fatalf("warm a.js error: %v", err)
	}

	stored, err := w.DownloadOffline(ctx)
	if err != nil {
		t.Fatalf("download error: %v", err)
	}
	if stored != 2 {
		t.Fatalf("expected index.html and b.js to be stored, got %d", stored)
	}
	if got := env.keys(t, cache.BucketContent); !equalKeys(got, "/", "index.html", "main.dart.js", "a.js", "b.js") {
		t.Fatalf("content should hold every manifest key, got %v", got)
	}
	for _, path := range []string{"/", "/index.html", "/main.dart.js", "/a.js", "/b.js"} {
		if hits := env.origin.hitCount(path); hits != 1 {
			t.Fatalf("%s fetched %d times, want 1", path, hits)
		}
	}

	again, err := w.DownloadOffline(ctx)
	if err != nil || again != 0 {
		t.Fatalf("second download should be a no-op, got %d %v", again, err)
	}
	if got := testutil.ToFloat64(opts.Metrics.OfflineDownloadResources.WithLabelValues(testApp)); got != 2 {
		t.Fatalf("expected 2 downloaded resources in metrics, got %v", got)
	}
}

func TestDownloadOfflineIsAllOrNothing(t *testing.T) {
	env := newWorkerEnv(t, shellFiles)
	w := env.deploy(t, mustManifest(t, map[string]string{"/": "r0", "a.js": "a0", "b.js": "b0"}, "/"))
	env.origin.fail("/b.js", http.StatusNotFound)

	stored, err := w.DownloadOffline(context.Background())
	if !errors.Is(err, ErrOfflineBatchFailure) {
		t.Fatalf("expected ErrOfflineBatchFailure, got %v", err)
	}
	if !errors.Is(err, ErrFetchFailure) {
		t.Fatalf("batch failure should wrap the fetch failure, got %v", err)
	}
	if stored != 0 {
		t.Fatalf("failed batch should report nothing stored, got %d", stored)
	}
	if got := env.keys(t, cache.BucketContent); !equalKeys(got, "/") {
		t.Fatalf("failed batch must not write content, got %v", got)
	}
}
