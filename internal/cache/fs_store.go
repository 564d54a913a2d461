package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	bodySuffix = ".body"
	metaSuffix = ".meta"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。磁盘布局：
//
//	<basePath>/<namespace>/<bucket>/<escaped-key>.body   # 正文
//	<basePath>/<namespace>/<bucket>/<escaped-key>.meta   # 状态码 + 头部（JSON）
//
// 键经 url.PathEscape 编码为单层文件名，因此 Keys 可以直接由目录列表还原。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 Locator 并发写入，同时复用 basePath。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type fileMeta struct {
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
}

func (s *fileStore) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bodyPath, metaPath, err := s.entryPaths(locator)
	if err != nil {
		return nil, err
	}

	// 元数据与正文须来自同一次 Put；打开后的文件句柄不受后续 rename 影响。
	unlock := s.lockEntry(locator)
	defer unlock()

	info, err := os.Stat(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	meta, err := readMeta(metaPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	entry := Entry{
		Locator:   locator,
		Status:    normalizeStatus(meta.Status),
		Header:    meta.Header,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}

	return &ReadResult{
		Entry:  entry,
		Reader: f,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	bodyPath, metaPath, err := s.entryPaths(locator)
	if err != nil {
		return nil, err
	}

	unlock := s.lockEntry(locator)
	defer unlock()

	dir := filepath.Dir(bodyPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	meta := fileMeta{Status: normalizeStatus(opts.Status), Header: opts.Header}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode cache meta: %w", err)
	}
	if _, err := writeAtomic(ctx, metaPath, bytes.NewReader(metaBytes)); err != nil {
		return nil, err
	}

	written, err := writeAtomic(ctx, bodyPath, body)
	if err != nil {
		os.Remove(metaPath)
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	if err := os.Chtimes(bodyPath, modTime, modTime); err != nil {
		return nil, err
	}

	entry := Entry{
		Locator:   locator,
		Status:    meta.Status,
		Header:    opts.Header,
		SizeBytes: written,
		ModTime:   modTime,
	}
	return &entry, nil
}

func (s *fileStore) Remove(ctx context.Context, locator Locator) error {
	bodyPath, metaPath, err := s.entryPaths(locator)
	if err != nil {
		return err
	}

	unlock := s.lockEntry(locator)
	defer unlock()

	if err := os.Remove(bodyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) Keys(ctx context.Context, namespace string, bucket Bucket) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.bucketPath(namespace, bucket)
	if err != nil {
		return nil, err
	}

	items, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	keys := make([]string, 0, len(items))
	for _, item := range items {
		name := item.Name()
		if item.IsDir() || !strings.HasSuffix(name, bodySuffix) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, bodySuffix))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *fileStore) Drop(ctx context.Context, namespace string, bucket Bucket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.bucketPath(namespace, bucket)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) lockEntry(locator Locator) func() {
	key := locatorKey(locator)
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) bucketPath(namespace string, bucket Bucket) (string, error) {
	if namespace == "" || bucket == "" {
		return "", ErrInvalidLocator
	}
	if strings.ContainsAny(namespace, `/\`) || namespace == "." || namespace == ".." {
		return "", ErrInvalidLocator
	}
	if strings.ContainsAny(string(bucket), `/\`) || bucket == "." || bucket == ".." {
		return "", ErrInvalidLocator
	}
	return filepath.Join(s.basePath, namespace, string(bucket)), nil
}

func (s *fileStore) entryPaths(locator Locator) (string, string, error) {
	if err := locator.validate(); err != nil {
		return "", "", err
	}
	dir, err := s.bucketPath(locator.Namespace, locator.Bucket)
	if err != nil {
		return "", "", err
	}
	name := url.PathEscape(locator.Key)
	return filepath.Join(dir, name+bodySuffix), filepath.Join(dir, name+metaSuffix), nil
}

func readMeta(metaPath string) (fileMeta, error) {
	var meta fileMeta
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, nil
		}
		return meta, err
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("decode cache meta: %w", err)
	}
	return meta, nil
}

// writeAtomic 通过临时文件 + rename 保证写入原子性，并在失败时清理临时文件。
func writeAtomic(ctx context.Context, target string, body io.Reader) (int64, error) {
	tempFile, err := os.CreateTemp(filepath.Dir(target), ".cache-*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return 0, err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return 0, err
	}
	return written, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

func locatorKey(locator Locator) string {
	return locator.Namespace + "::" + string(locator.Bucket) + "::" + locator.Key
}
