// Package storage provides the response cache shared by the data adapters.
// Entries are replaced on write, carry their creation time and expire once
// they are older than the configured max age.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/czcorpus/wag-sub001/internal/logging"
)

// Backend names accepted by Open
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendNone   = "none"
)

// KeyValueStore is an asynchronous-safe key/value cache.
type KeyValueStore interface {
	// Get decodes the entry stored under key into dst. It reports false on
	// a miss; expired entries count as misses and are removed.
	Get(ctx context.Context, key string, dst interface{}) (bool, error)
	// Set stores value under key, replacing any previous entry.
	Set(ctx context.Context, key string, value interface{}) error
	// ClearAll removes every entry and returns how many were removed.
	ClearAll(ctx context.Context) (int, error)
	Close() error
}

// Options configures a store.
type Options struct {
	// MaxAge of an entry; zero keeps entries forever
	MaxAge time.Duration
	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) expired(createdAt time.Time) bool {
	return o.MaxAge > 0 && o.now().Sub(createdAt) >= o.MaxAge
}

// Config selects and configures a backend.
type Config struct {
	Backend string
	Path    string
	MaxAge  time.Duration
}

// Open creates the configured store. An empty or "none" backend yields a
// Dummy store.
func Open(cfg Config, logger *logging.Logger) (KeyValueStore, error) {
	opts := Options{MaxAge: cfg.MaxAge}
	switch cfg.Backend {
	case BackendSQLite:
		return OpenSQLite(cfg.Path, opts, logger)
	case BackendBolt:
		return OpenBolt(cfg.Path, opts, logger)
	case "", BackendNone:
		return Dummy{}, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func initCodec() error {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return codecErr
}

// encodeValue serializes value as compressed JSON.
func encodeValue(value interface{}) ([]byte, error) {
	if err := initCodec(); err != nil {
		return nil, fmt.Errorf("failed to init zstd: %w", err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// decodeValue reverses encodeValue.
func decodeValue(blob []byte, dst interface{}) error {
	if err := initCodec(); err != nil {
		return fmt.Errorf("failed to init zstd: %w", err)
	}
	data, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return fmt.Errorf("failed to decompress cache value: %w", err)
	}
	return json.Unmarshal(data, dst)
}

// Dummy is used when no backing store is available. It always misses.
type Dummy struct{}

func (Dummy) Get(ctx context.Context, key string, dst interface{}) (bool, error) { return false, nil }
func (Dummy) Set(ctx context.Context, key string, value interface{}) error        { return nil }
func (Dummy) ClearAll(ctx context.Context) (int, error)                           { return 0, nil }
func (Dummy) Close() error                                                         { return nil }
