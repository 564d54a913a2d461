package offline

import (
	"context"
	"fmt"
	"sort"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/manifest"
)

// DownloadOffline 拉取清单中尚未进入 content 仓的全部资源。
// 批次是全有或全无的：任何一个请求失败都不会写入本批次的任何条目。返回写入的条目数。
func (w *Worker) DownloadOffline(ctx context.Context) (int, error) {
	stored, err := w.downloadOffline(ctx)
	w.metrics.ObserveOfflineDownload(w.app, stored, err)

	entry := w.lifecycleLog(EventMessage).WithField("message", string(MessageDownloadOffline))
	if err != nil {
		entry.WithError(err).Error("offline_download_failed")
		return 0, fmt.Errorf("%w: %s: %w", ErrOfflineBatchFailure, w.app, err)
	}
	entry.WithField("stored", stored).Info("offline_download_complete")
	return stored, nil
}

func (w *Worker) downloadOffline(ctx context.Context) (int, error) {
	missing, err := w.missingKeys(ctx)
	if err != nil {
		return 0, err
	}
	if len(missing) == 0 {
		return 0, nil
	}

	responses, err := w.fetchAll(ctx, missing, false)
	if err != nil {
		return 0, err
	}
	for _, key := range missing {
		if err := w.putResponse(ctx, cache.BucketContent, responses[key]); err != nil {
			return 0, err
		}
	}
	return len(missing), nil
}

// missingKeys 返回清单中 content 仓尚未缓存的键（有序）。
func (w *Worker) missingKeys(ctx context.Context) ([]string, error) {
	stored, err := w.store.Keys(ctx, w.app, cache.BucketContent)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	present := make(map[string]struct{}, len(stored))
	for _, key := range stored {
		present[manifest.NormalizeStoredKey(key)] = struct{}{}
	}

	var missing []string
	for _, key := range w.manifest.Keys() {
		if _, ok := present[key]; ok {
			continue
		}
		missing = append(missing, key)
	}
	sort.Strings(missing)
	return missing, nil
}
