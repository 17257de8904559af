package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"reelsmith/internal/logging"
)

// Stats describes current cache usage.
type Stats struct {
	Root         string         `json:"root"`
	Entries      int            `json:"entries"`
	TotalBytes   int64          `json:"total_bytes"`
	FreeBytes    uint64         `json:"free_bytes"`
	TotalFSBytes uint64         `json:"total_fs_bytes"`
	Stages       []StageSummary `json:"stages"`
	Oldest       time.Time      `json:"oldest,omitempty"`
	Newest       time.Time      `json:"newest,omitempty"`
}

// StageSummary aggregates entries produced by one stage.
type StageSummary struct {
	Stage      string `json:"stage"`
	Entries    int    `json:"entries"`
	TotalBytes int64  `json:"total_bytes"`
}

// PruneResult reports what Prune removed.
type PruneResult struct {
	Removed    int   `json:"removed"`
	FreedBytes int64 `json:"freed_bytes"`
	Skipped    int   `json:"skipped"`
}

type entry struct {
	key     Key
	meta    Meta
	size    int64
	created time.Time
}

// scan walks the shard directories and returns every complete entry.
func (s *Store) scan() ([]entry, error) {
	var entries []entry
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), dataSuffix) {
			return nil
		}
		key := Key(strings.TrimSuffix(d.Name(), dataSuffix))
		if !key.Valid() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		e := entry{key: key, size: info.Size(), created: info.ModTime()}
		if meta, ok, err := readMeta(strings.TrimSuffix(path, dataSuffix) + metaSuffix); err == nil && ok {
			e.meta = meta
			if !meta.CreatedAt.IsZero() {
				e.created = meta.CreatedAt
			}
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: scan cache: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].created.Before(entries[j].created) })
	return entries, nil
}

// Stats returns cache usage grouped by stage plus filesystem free space.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	entries, err := s.scan()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Root: s.root, Entries: len(entries)}
	byStage := map[string]*StageSummary{}
	for _, e := range entries {
		stats.TotalBytes += e.size
		stage := e.meta.Stage
		if stage == "" {
			stage = "unknown"
		}
		summary, ok := byStage[stage]
		if !ok {
			summary = &StageSummary{Stage: stage}
			byStage[stage] = summary
		}
		summary.Entries++
		summary.TotalBytes += e.size
	}
	if len(entries) > 0 {
		stats.Oldest = entries[0].created
		stats.Newest = entries[len(entries)-1].created
	}
	for _, summary := range byStage {
		stats.Stages = append(stats.Stages, *summary)
	}
	sort.Slice(stats.Stages, func(i, j int) bool { return stats.Stages[i].Stage < stats.Stages[j].Stage })

	var fsStat unix.Statfs_t
	if err := unix.Statfs(s.root, &fsStat); err == nil {
		stats.TotalFSBytes = fsStat.Blocks * uint64(fsStat.Bsize)
		stats.FreeBytes = fsStat.Bavail * uint64(fsStat.Bsize)
	} else {
		s.logger.DebugContext(ctx, "statfs failed", logging.Error(err))
	}
	return stats, nil
}

// Prune removes entries created before now-olderThan. Entries whose lock is
// held by an in-flight generation are skipped.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (PruneResult, error) {
	var result PruneResult
	if olderThan < 0 {
		return result, fmt.Errorf("artifact: negative prune age %s", olderThan)
	}
	entries, err := s.scan()
	if err != nil {
		return result, err
	}
	cutoff := s.now().Add(-olderThan)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !e.created.Before(cutoff) {
			continue
		}
		dataPath, metaPath, lockPath := s.paths(e.key)
		lock := flock.New(lockPath)
		locked, err := lock.TryLock()
		if err != nil || !locked {
			result.Skipped++
			continue
		}
		removeErr := os.Remove(dataPath)
		_ = os.Remove(metaPath)
		_ = os.Remove(lockPath)
		_ = lock.Unlock()
		if removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
			s.logger.WarnContext(ctx, "prune failed to remove artifact",
				logging.String("key", e.key.Short()),
				logging.Error(removeErr),
				logging.String(logging.FieldEventType, "artifact_prune_failed"),
				logging.String(logging.FieldErrorHint, "check cache directory permissions"),
				logging.String(logging.FieldImpact, "entry stays cached"),
			)
			result.Skipped++
			continue
		}
		result.Removed++
		result.FreedBytes += e.size
	}
	s.logger.InfoContext(ctx, "artifact cache pruned",
		logging.Int("removed", result.Removed),
		logging.Int64("freed_bytes", result.FreedBytes),
		logging.Int("skipped", result.Skipped),
	)
	return result, nil
}
