package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/manifest"
)

const (
	migrationColdStart = "cold-start"
	migrationDiff      = "migrate"
)

// Activate 迁移 content 仓：无历史清单时冷启动，否则按校验和差异淘汰条目后叠加 temp 仓。
// 任何错误都会清空三个缓存仓并返回包裹 ErrMigrationFailure 的错误；Worker 仍进入 activated。
func (w *Worker) Activate(ctx context.Context) error {
	w.setPhase(PhaseActivating)

	mode, err := w.migrate(ctx)
	w.metrics.ObserveLifecycle(w.app, string(EventActivate), mode, err)
	if err != nil {
		w.teardown(context.WithoutCancel(ctx))
		w.setPhase(PhaseActivated)
		w.lifecycleLog(EventActivate).WithError(err).Error("activate_failed")
		return fmt.Errorf("%w: %s: %w", ErrMigrationFailure, w.app, err)
	}

	w.setPhase(PhaseActivated)
	w.lifecycleLog(EventActivate).WithField("mode", mode).Info("activate_complete")
	return nil
}

func (w *Worker) migrate(ctx context.Context) (string, error) {
	previous, found, err := w.loadPersistedManifest(ctx)
	if err != nil {
		return migrationDiff, err
	}

	if !found {
		if err := w.store.Drop(ctx, w.app, cache.BucketContent); err != nil {
			return migrationColdStart, fmt.Errorf("drop content: %w", err)
		}
		if err := w.promoteTemp(ctx); err != nil {
			return migrationColdStart, err
		}
		return migrationColdStart, w.persistManifest(ctx)
	}

	keys, err := w.store.Keys(ctx, w.app, cache.BucketContent)
	if err != nil {
		return migrationDiff, fmt.Errorf("list content: %w", err)
	}
	evicted := 0
	for _, stored := range keys {
		key := manifest.NormalizeStoredKey(stored)
		current, ok := w.manifest.Checksum(key)
		if ok && current == previous[key] {
			continue
		}
		if err := w.store.Remove(ctx, w.locator(cache.BucketContent, stored)); err != nil {
			return migrationDiff, fmt.Errorf("evict %s: %w", key, err)
		}
		evicted++
	}
	w.lifecycleLog(EventActivate).
		WithField("evicted", evicted).
		WithField("kept", len(keys)-evicted).
		Debug("content_diffed")

	if err := w.promoteTemp(ctx); err != nil {
		return migrationDiff, err
	}
	return migrationDiff, w.persistManifest(ctx)
}

// promoteTemp 将 temp 仓逐条原样覆盖到 content 仓，然后删除 temp 仓。
func (w *Worker) promoteTemp(ctx context.Context) error {
	keys, err := w.store.Keys(ctx, w.app, cache.BucketTemp)
	if err != nil {
		return fmt.Errorf("list temp: %w", err)
	}
	for _, key := range keys {
		if err := w.copyEntry(ctx, key, cache.BucketTemp, cache.BucketContent); err != nil {
			return err
		}
	}
	if err := w.store.Drop(ctx, w.app, cache.BucketTemp); err != nil {
		return fmt.Errorf("drop temp: %w", err)
	}
	return nil
}

func (w *Worker) copyEntry(ctx context.Context, key string, from, to cache.Bucket) error {
	result, err := w.store.Get(ctx, w.locator(from, key))
	if err != nil {
		return fmt.Errorf("read %s/%s: %w", from, key, err)
	}
	defer result.Reader.Close()

	_, err = w.store.Put(ctx, w.locator(to, key), result.Reader, cache.PutOptions{
		Status: result.Entry.Status,
		Header: result.Entry.Header,
	})
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", to, key, err)
	}
	return nil
}

func (w *Worker) loadPersistedManifest(ctx context.Context) (map[string]string, bool, error) {
	result, err := w.store.Get(ctx, w.locator(cache.BucketManifest, manifestRecordKey))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read manifest record: %w", err)
	}
	defer result.Reader.Close()

	raw, err := io.ReadAll(result.Reader)
	if err != nil {
		return nil, false, fmt.Errorf("read manifest record: %w", err)
	}
	resources, err := manifest.DecodeResources(raw)
	if err != nil {
		return nil, false, err
	}
	return resources, true, nil
}

func (w *Worker) persistManifest(ctx context.Context) error {
	encoded, err := w.manifest.Encode()
	if err != nil {
		return err
	}
	_, err = w.store.Put(ctx, w.locator(cache.BucketManifest, manifestRecordKey), bytes.NewReader(encoded), cache.PutOptions{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
	})
	if err != nil {
		return fmt.Errorf("persist manifest: %w", err)
	}
	return nil
}

// teardown 在迁移失败后删除全部缓存仓，单个仓删除失败只记录日志。
func (w *Worker) teardown(ctx context.Context) {
	for _, bucket := range cache.AllBuckets() {
		if err := w.store.Drop(ctx, w.app, bucket); err != nil {
			w.lifecycleLog(EventActivate).
				WithField("bucket", string(bucket)).
				WithError(err).
				Warn("cache_drop_failed")
		}
	}
}
