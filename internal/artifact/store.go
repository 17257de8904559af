package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"

	"reelsmith/internal/fileutil"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
)

const (
	dataSuffix = ".bin"
	metaSuffix = ".json"
	lockSuffix = ".lock"

	lockRetryDelay = 50 * time.Millisecond
)

// ErrCollision reports that a key was written twice with different content.
var ErrCollision = errors.New("artifact fingerprint collision")

// Meta is the sidecar stored next to every artifact.
type Meta struct {
	Key       Key       `json:"key"`
	Stage     string    `json:"stage"`
	SizeBytes int64     `json:"size_bytes"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a filesystem-backed content-addressed artifact cache.
type Store struct {
	root   string
	logger *slog.Logger
	group  singleflight.Group
	// putMu serialises the compare-and-write in Put within this process;
	// the per-key flock covers other processes.
	putMu sync.Mutex
	now   func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger routes store diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logging.NewComponentLogger(logger, "artifact")
	}
}

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open prepares a store rooted at dir, creating it when missing.
func Open(dir string, opts ...Option) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("artifact: root directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrResource, "artifact", "open", "create cache directory", err)
	}
	s := &Store{root: dir, logger: logging.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the cache directory.
func (s *Store) Root() string { return s.root }

func (s *Store) paths(key Key) (data, meta, lock string) {
	base := filepath.Join(s.root, string(key[:2]), string(key))
	return base + dataSuffix, base + metaSuffix, base + lockSuffix
}

func checkKey(key Key) error {
	if !key.Valid() {
		return fmt.Errorf("artifact: invalid key %q", key)
	}
	return nil
}

// Get returns the artifact for key. A missing entry is a miss, not an error.
func (s *Store) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	dataPath, _, _ := s.paths(key)
	data, err := os.ReadFile(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, services.Wrap(services.ErrResource, "artifact", "get", "read "+key.Short(), err)
	}
	return data, true, nil
}

// Has reports whether key is present without reading it.
func (s *Store) Has(key Key) bool {
	if checkKey(key) != nil {
		return false
	}
	dataPath, _, _ := s.paths(key)
	_, err := os.Stat(dataPath)
	return err == nil
}

// Meta returns the sidecar for key.
func (s *Store) Meta(key Key) (Meta, bool, error) {
	if err := checkKey(key); err != nil {
		return Meta{}, false, err
	}
	_, metaPath, _ := s.paths(key)
	return readMeta(metaPath)
}

// Put stores data under key. Writing equal content again is a no-op; writing
// different content returns ErrCollision and leaves the entry untouched.
func (s *Store) Put(ctx context.Context, key Key, stage string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	lock, err := s.lockKey(ctx, key)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	return s.putLocked(ctx, key, stage, data)
}

func (s *Store) putLocked(ctx context.Context, key Key, stage string, data []byte) error {
	s.putMu.Lock()
	defer s.putMu.Unlock()

	dataPath, _, _ := s.paths(key)
	existing, err := os.ReadFile(dataPath)
	switch {
	case err == nil:
		if bytes.Equal(existing, data) {
			return nil
		}
		s.logger.ErrorContext(ctx, "artifact collision",
			logging.String("key", key.String()),
			logging.String(logging.FieldStage, stage),
			logging.Alert("artifact_collision"),
		)
		return services.Wrap(services.ErrContractViolation, "artifact", "put",
			fmt.Sprintf("key %s already holds different content", key.Short()), ErrCollision)
	case !errors.Is(err, fs.ErrNotExist):
		return services.Wrap(services.ErrResource, "artifact", "put", "read existing entry", err)
	}

	return s.writeEntry(ctx, key, stage, data)
}

func (s *Store) writeEntry(ctx context.Context, key Key, stage string, data []byte) error {
	dataPath, metaPath, _ := s.paths(key)
	sum := sha256.Sum256(data)
	meta := Meta{
		Key:       key,
		Stage:     stage,
		SizeBytes: int64(len(data)),
		SHA256:    hex.EncodeToString(sum[:]),
		CreatedAt: s.now().UTC(),
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("artifact: encode meta: %w", err)
	}
	if err := fileutil.WriteFileAtomic(dataPath, data, 0o644); err != nil {
		return services.Wrap(services.ErrResource, "artifact", "put", "write data", err)
	}
	if err := fileutil.WriteFileAtomic(metaPath, encoded, 0o644); err != nil {
		return services.Wrap(services.ErrResource, "artifact", "put", "write meta", err)
	}
	s.logger.DebugContext(ctx, "artifact stored",
		logging.String("key", key.Short()),
		logging.String(logging.FieldStage, stage),
		logging.Int64("size_bytes", meta.SizeBytes),
	)
	return nil
}

// Do returns the artifact for key, calling generate only when it is missing.
// At most one generate runs per key at a time across goroutines and processes;
// callers that waited on another caller's generation observe hit == true.
// Failed generations are not cached.
func (s *Store) Do(ctx context.Context, key Key, stage string, generate func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	if data, ok, err := s.Get(ctx, key); err != nil || ok {
		return data, ok, err
	}

	type outcome struct {
		data []byte
		hit  bool
	}
	v, err, shared := s.group.Do(string(key), func() (any, error) {
		lock, err := s.lockKey(ctx, key)
		if err != nil {
			return nil, err
		}
		defer lock.Unlock()

		// Another process may have finished while we waited for the lock.
		if data, ok, err := s.Get(ctx, key); err != nil || ok {
			return outcome{data: data, hit: ok}, err
		}
		data, err := generate(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.putLocked(ctx, key, stage, data); err != nil {
			return nil, err
		}
		return outcome{data: data}, nil
	})
	if err != nil {
		return nil, false, err
	}
	out := v.(outcome)
	return out.data, out.hit || shared, nil
}

func (s *Store) lockKey(ctx context.Context, key Key) (*flock.Flock, error) {
	_, _, lockPath := s.paths(key)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, services.Wrap(services.ErrResource, "artifact", "lock", "create shard directory", err)
	}
	lock := flock.New(lockPath)
	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, services.Wrap(services.ErrResource, "artifact", "lock", key.Short(), err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrResource, "artifact", "lock", "lock not acquired for "+key.Short(), nil)
	}
	return lock, nil
}

// GetJSON decodes the artifact for key into target.
func (s *Store) GetJSON(ctx context.Context, key Key, target any) (bool, error) {
	data, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, services.Wrap(services.ErrResource, "artifact", "get", "decode "+key.Short(), err)
	}
	return true, nil
}

// PutJSON encodes value and stores it under key.
func (s *Store) PutJSON(ctx context.Context, key Key, stage string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("artifact: encode %s: %w", stage, err)
	}
	return s.Put(ctx, key, stage, data)
}

// Overwrite replaces key unconditionally. Reserved for mutable records such
// as persisted run state, which are keyed by run rather than by content.
func (s *Store) Overwrite(ctx context.Context, key Key, stage string, value any) error {
	if err := checkKey(key); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("artifact: encode %s: %w", stage, err)
	}
	lock, err := s.lockKey(ctx, key)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	s.putMu.Lock()
	defer s.putMu.Unlock()
	return s.writeEntry(ctx, key, stage, data)
}

// DoJSON is Do for JSON-encoded values.
func DoJSON[T any](ctx context.Context, s *Store, key Key, stage string, generate func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	data, hit, err := s.Do(ctx, key, stage, func(ctx context.Context) ([]byte, error) {
		value, err := generate(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	})
	if err != nil {
		return zero, hit, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, hit, services.Wrap(services.ErrResource, "artifact", "decode", key.Short(), err)
	}
	return out, hit, nil
}

func readMeta(path string) (Meta, bool, error) {
	payload, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, err
	}
	var meta Meta
	if err := json.Unmarshal(payload, &meta); err != nil {
		return Meta{}, false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return meta, true, nil
}
