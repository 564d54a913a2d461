package offline

import (
	"context"
	"fmt"
	"sort"

	"github.com/any-hub/offline-hub/internal/cache"
)

// Install 以绕过缓存的方式拉取应用外壳并写入 temp 仓。
// 所有核心资源必须全部成功后才会写入；失败时 Worker 进入 redundant，不做重试。
func (w *Worker) Install(ctx context.Context) error {
	w.setPhase(PhaseInstalling)
	if !w.manualActivation {
		w.requestSkipWaiting()
	}

	err := w.install(ctx)
	mode := w.activationMode()
	w.metrics.ObserveLifecycle(w.app, string(EventInstall), mode, err)
	if err != nil {
		w.setPhase(PhaseRedundant)
		w.lifecycleLog(EventInstall).WithError(err).Error("install_failed")
		return fmt.Errorf("install %s: %w", w.app, err)
	}

	w.setPhase(PhaseInstalled)
	w.lifecycleLog(EventInstall).
		WithField("core", len(w.manifest.Core())).
		Info("install_complete")
	return nil
}

func (w *Worker) install(ctx context.Context) error {
	responses, err := w.fetchAll(ctx, w.manifest.Core(), true)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(responses))
	for key := range responses {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := w.putResponse(ctx, cache.BucketTemp, responses[key]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) activationMode() string {
	if w.manualActivation {
		return "manual"
	}
	return "auto"
}
