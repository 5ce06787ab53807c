package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"sync"
	"time"

	"github.com/huandu/go-sqlbuilder"
)

// --- Cache ---

// Get implements cache.Cacher.
func (s *SQLStore) Get(key string) ([]byte, bool) {
	return s.GetCache(context.Background(), key)
}

// Set implements cache.Cacher.
func (s *SQLStore) Set(key string, val []byte) error {
	return s.SetCache(context.Background(), key, val)
}

// GetCache returns a cached value. Errors are treated as misses.
func (s *SQLStore) GetCache(ctx context.Context, key string) ([]byte, bool) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("value").From("cache").Where(sb.Equal("key", key))

	var val []byte
	if err := s.get(ctx, &val, sb); err != nil {
		return nil, false
	}

	if len(val) > 2 && val[0] == 0x1f && val[1] == 0x8b {
		if decompressed, err := decompress(val); err == nil {
			return decompressed, true
		}
	}
	return val, true
}

func (s *SQLStore) HasCache(ctx context.Context, key string) (bool, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("count(*)").From("cache").Where(sb.Equal("key", key))

	var n int
	if err := s.get(ctx, &n, sb); err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetCache stores a value gzip-compressed.
func (s *SQLStore) SetCache(ctx context.Context, key string, val []byte) error {
	if compressed, err := compress(val); err == nil {
		val = compressed
	}

	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto("cache").Cols("key", "value", "created_at").Values(key, val, time.Now().UTC())
	ib.SQL("ON CONFLICT (key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at")
	_, err := s.exec(ctx, ib)
	return err
}

func (s *SQLStore) ListCacheKeys(ctx context.Context, prefix string) ([]string, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("key").From("cache").Where(sb.Like("key", prefix+"%")).OrderBy("key")

	var keys []string
	if err := s.selectRows(ctx, &keys, sb); err != nil {
		return nil, err
	}
	return keys, nil
}

var (
	gzipWriterPool = sync.Pool{
		New: func() interface{} {
			return gzip.NewWriter(io.Discard)
		},
	}
	bufferPool = sync.Pool{
		New: func() interface{} {
			return new(bytes.Buffer)
		},
	}
)

func compress(data []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	w := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(w)
	w.Reset(buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// buf goes back to the pool
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// --- State ---

func (s *SQLStore) GetState(ctx context.Context, key string) (string, bool) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("value").From("persistent_state").Where(sb.Equal("key", key))

	var val string
	if err := s.get(ctx, &val, sb); err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLStore) SetState(ctx context.Context, key, val string) error {
	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto("persistent_state").Cols("key", "value", "created_at").Values(key, val, time.Now().UTC())
	ib.SQL("ON CONFLICT (key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at")
	_, err := s.exec(ctx, ib)
	return err
}

func (s *SQLStore) DeleteState(ctx context.Context, key string) error {
	db := sqlbuilder.NewDeleteBuilder()
	db.DeleteFrom("persistent_state").Where(db.Equal("key", key))
	_, err := s.exec(ctx, db)
	return err
}
