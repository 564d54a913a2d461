package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// keySeparator 分隔 namespace/bucket/key，0 字节不会出现在合法的 URL 路径中。
const keySeparator = "\x00"

// badgerRecord 是单个条目在 badger 中的编码形式，正文与元数据同一事务写入。
type badgerRecord struct {
	Status  int         `json:"status"`
	Header  http.Header `json:"header,omitempty"`
	ModTime time.Time   `json:"mod_time"`
	Body    []byte      `json:"body"`
}

type badgerStore struct {
	db *badger.DB
}

// NewBadgerStore 在 dir 下打开（或创建）badger 数据库作为缓存后端。
func NewBadgerStore(dir string) (Store, error) {
	if dir == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	return openBadger(badger.DefaultOptions(dir).WithLogger(nil))
}

// NewMemoryBadgerStore 返回纯内存的 badger 缓存，进程退出即丢失。
func NewMemoryBadgerStore() (Store, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func openBadger(opts badger.Options) (Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &badgerStore{db: db}, nil
}

func (s *badgerStore) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := locator.validate(); err != nil {
		return nil, err
	}

	var record badgerRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(locator))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err != nil {
		return nil, err
	}

	entry := Entry{
		Locator:   locator,
		Status:    normalizeStatus(record.Status),
		Header:    record.Header,
		SizeBytes: int64(len(record.Body)),
		ModTime:   record.ModTime,
	}
	return &ReadResult{
		Entry:  entry,
		Reader: nopSeekCloser{bytes.NewReader(record.Body)},
	}, nil
}

func (s *badgerStore) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	if err := locator.validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := copyWithContext(ctx, &buf, body); err != nil {
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	record := badgerRecord{
		Status:  normalizeStatus(opts.Status),
		Header:  opts.Header,
		ModTime: modTime,
		Body:    buf.Bytes(),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode cache record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(locator), encoded)
	})
	if err != nil {
		return nil, err
	}

	return &Entry{
		Locator:   locator,
		Status:    record.Status,
		Header:    record.Header,
		SizeBytes: int64(len(record.Body)),
		ModTime:   modTime,
	}, nil
}

func (s *badgerStore) Remove(ctx context.Context, locator Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := locator.validate(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(locator))
	})
}

func (s *badgerStore) Keys(ctx context.Context, namespace string, bucket Bucket) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if namespace == "" || bucket == "" {
		return nil, ErrInvalidLocator
	}

	prefix := bucketPrefix(namespace, bucket)
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw := it.Item().KeyCopy(nil)
			keys = append(keys, string(raw[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *badgerStore) Drop(ctx context.Context, namespace string, bucket Bucket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if namespace == "" || bucket == "" {
		return ErrInvalidLocator
	}
	return s.db.DropPrefix(bucketPrefix(namespace, bucket))
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}

func bucketPrefix(namespace string, bucket Bucket) []byte {
	return []byte(namespace + keySeparator + string(bucket) + keySeparator)
}

func entryKey(locator Locator) []byte {
	return append(bucketPrefix(locator.Namespace, locator.Bucket), locator.Key...)
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }
