package manifest

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch 监听清单文件所在目录，文件被写入/替换且内容摘要变化时回调 onChange。
// 解析失败只记录日志，保留上一次的清单。ctx 取消后返回 nil。
func Watch(ctx context.Context, path string, current *Manifest, logger *logrus.Logger, onChange func(*Manifest)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create manifest watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	// 编辑器与部署脚本常用 rename 替换文件，因此监听目录而不是文件本身。
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch manifest dir: %w", err)
	}

	lastDigest := ""
	if current != nil {
		lastDigest = current.Digest()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			next, err := Load(target)
			if err != nil {
				logger.WithError(err).WithField("path", target).Warn("manifest_reload_failed")
				continue
			}
			if next.Digest() == lastDigest {
				continue
			}
			lastDigest = next.Digest()
			logger.WithFields(logrus.Fields{
				"action": "manifest_reload",
				"path":   target,
				"digest": lastDigest,
			}).Info("manifest_changed")
			onChange(next)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).WithField("path", target).Warn("manifest_watch_error")
		}
	}
}
