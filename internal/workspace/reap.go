package workspace

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
)

const reapLockName = ".reap.lock"

// Entry describes one job workspace found under the storage base.
type Entry struct {
	JobID string
	Path  string
	// ModTime is the newest modification time of anything in the workspace.
	ModTime time.Time
	Size    int64
}

// ReapResult is the outcome of a Reap pass.
type ReapResult struct {
	Removed []string
	Errors  []ReapError
	// Skipped is set when another process held the reap lock.
	Skipped bool
}

// ReapError pairs a job id with the error hit while removing it.
type ReapError struct {
	JobID string
	Err   error
}

// List returns every job workspace under the base, oldest first.
func (s *FSStore) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &StorageError{Op: "list", Path: s.base, Err: err}
	}

	var entries []Entry
	for _, de := range dirEntries {
		if !de.IsDir() || !ValidJobID(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		root := filepath.Join(s.base, de.Name())
		size, newest, _ := dirStats(root)
		if newest.Before(info.ModTime()) {
			newest = info.ModTime()
		}
		entries = append(entries, Entry{
			JobID:   de.Name(),
			Path:    root,
			ModTime: newest,
			Size:    size,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ModTime.Before(entries[j].ModTime) })
	return entries, nil
}

// Reap removes workspaces in which nothing has been modified for maxAge. Only
// directories named like job ids are considered. Concurrent reapers (server
// scheduler and CLI) are serialized through a lock file in the base.
func (s *FSStore) Reap(ctx context.Context, maxAge time.Duration) (ReapResult, error) {
	var result ReapResult

	lock := flock.New(filepath.Join(s.base, reapLockName))
	locked, err := lock.TryLock()
	if err != nil {
		return result, &StorageError{Op: "lock", Path: s.base, Err: err}
	}
	if !locked {
		result.Skipped = true
		return result, nil
	}
	defer func() {
		_ = lock.Unlock()
	}()

	entries, err := s.List()
	if err != nil {
		return result, err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !entry.ModTime.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(entry.Path); err != nil {
			result.Errors = append(result.Errors, ReapError{JobID: entry.JobID, Err: err})
			log.Printf("Failed to remove workspace %s: %v", entry.JobID, err)
			continue
		}
		result.Removed = append(result.Removed, entry.JobID)
		log.Printf("Removed workspace %s (age %s)", entry.JobID, time.Since(entry.ModTime).Truncate(time.Second))
	}

	return result, nil
}

// dirStats walks a workspace and returns the total size of its regular
// files and the newest modification time of any entry, root included.
func dirStats(path string) (int64, time.Time, error) {
	var size int64
	var newest time.Time
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		if d.Type().IsRegular() {
			size += info.Size()
		}
		return nil
	})
	return size, newest, err
}
