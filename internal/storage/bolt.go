package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/czcorpus/wag-sub001/internal/logging"
)

const bucketResponses = "responses"

// BoltStore keeps cache entries in a bbolt file. Each value is prefixed
// with its creation time (unix nanoseconds, big endian).
type BoltStore struct {
	db     *bolt.DB
	opts   Options
	logger *logging.Logger
}

// OpenBolt opens or creates the bbolt cache file at path.
func OpenBolt(path string, opts Options, logger *logging.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt file: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketResponses))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("Opened response cache", map[string]interface{}{
		"backend": BackendBolt,
		"path":    path,
		"maxAge":  opts.MaxAge.String(),
	})
	return &BoltStore{db: db, opts: opts, logger: logger}, nil
}

func marshalEntry(createdAt time.Time, blob []byte) []byte {
	buf := make([]byte, 8+len(blob))
	binary.BigEndian.PutUint64(buf, uint64(createdAt.UnixNano()))
	copy(buf[8:], blob)
	return buf
}

func unmarshalEntry(v []byte) (time.Time, []byte, bool) {
	if len(v) < 8 {
		return time.Time{}, nil, false
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(v))), v[8:], true
}

// Get implements KeyValueStore.
func (s *BoltStore) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	var blob []byte
	var stale bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketResponses)).Get([]byte(key))
		if v == nil {
			return nil
		}
		createdAt, data, ok := unmarshalEntry(v)
		if !ok || s.opts.expired(createdAt) {
			stale = true
			return nil
		}
		// v is only valid inside the transaction
		blob = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("cache lookup failed: %w", err)
	}

	if stale {
		err := s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket([]byte(bucketResponses)).Delete([]byte(key))
		})
		if err != nil {
			s.logger.Warn("Failed to purge expired cache entry", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		return false, nil
	}
	if blob == nil {
		return false, nil
	}
	if err := decodeValue(blob, dst); err != nil {
		return false, nil
	}
	return true, nil
}

// Set implements KeyValueStore.
func (s *BoltStore) Set(ctx context.Context, key string, value interface{}) error {
	blob, err := encodeValue(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketResponses)).Put([]byte(key), marshalEntry(s.opts.now(), blob))
	})
}

// ClearAll implements KeyValueStore.
func (s *BoltStore) ClearAll(ctx context.Context) (int, error) {
	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket([]byte(bucketResponses)).ForEach(func(k, v []byte) error {
			n++
			return nil
		})
		if err != nil {
			return err
		}
		if err := tx.DeleteBucket([]byte(bucketResponses)); err != nil {
			return err
		}
		_, err = tx.CreateBucket([]byte(bucketResponses))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}
	return n, nil
}

// Close closes the bolt file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
