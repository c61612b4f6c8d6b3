// Package filestore implements atomic JSON file I/O with an advisory
// directory-based lock, used by the task board, prompt library, analysis
// caches, and configuration (spec §4.3). The write path (temp file in the
// same directory, then rename) is adapted from the teacher's
// internal/storage.FileStorage.atomicWrite; locking, backups, and temp-file
// sweeping are new, generalized to the spec's directory-lock contract.
package filestore

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultLockTTL is how old a lock directory (or legacy lock file) may be
// before a contending acquirer reclaims it.
const DefaultLockTTL = 10 * time.Second

// LockOptions configures acquireLock.
type LockOptions struct {
	// TTL is the reclaim age; zero uses DefaultLockTTL.
	TTL time.Duration
	// RetryCeiling bounds the number of contention retries before giving up.
	RetryCeiling int
	// Now, when set, overrides time.Now for deterministic tests.
	Now func() time.Time
}

func (o LockOptions) ttl() time.Duration {
	if o.TTL > 0 {
		return o.TTL
	}
	return DefaultLockTTL
}

func (o LockOptions) retryCeiling() int {
	if o.RetryCeiling > 0 {
		return o.RetryCeiling
	}
	return 20
}

func (o LockOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// lockPath derives the lock directory and legacy lock file for path.
func lockPath(path string) string      { return path + ".lock" }
func legacyLockFile(path string) string { return path + ".lockfile" }

// acquireLock takes a non-blocking try at creating the lock directory; on
// contention it retries with jittered backoff up to opts.RetryCeiling,
// reclaiming locks (directory or legacy file) older than opts.TTL. Release
// is idempotent — it removes whichever representation exists.
func acquireLock(path string, opts LockOptions) (release func(), err error) {
	ld := lockPath(path)
	legacy := legacyLockFile(path)

	for attempt := 0; attempt < opts.retryCeiling(); attempt++ {
		if err := os.Mkdir(ld, 0700); err == nil {
			return func() {
				_ = os.Remove(ld) //nolint:errcheck // release best-effort
			}, nil
		} else if !os.IsExist(err) {
			return nil, fmt.Errorf("filestore: create lock dir: %w", err)
		}

		reclaimIfStale(ld, opts)
		reclaimLegacyIfStale(legacy, opts)

		backoff := time.Duration(5+rand.Intn(20)) * time.Millisecond * time.Duration(attempt+1)
		time.Sleep(backoff)
	}
	return nil, ErrLockContention
}

func reclaimIfStale(ld string, opts LockOptions) {
	info, err := os.Stat(ld)
	if err != nil {
		return
	}
	if opts.now().Sub(info.ModTime()) > opts.ttl() {
		_ = os.Remove(ld) //nolint:errcheck // best-effort reclaim
	}
}

func reclaimLegacyIfStale(legacy string, opts LockOptions) {
	info, err := os.Stat(legacy)
	if err != nil {
		return
	}
	if opts.now().Sub(info.ModTime()) > opts.ttl() {
		_ = os.Remove(legacy) //nolint:errcheck // best-effort reclaim
	}
}

// AtomicWrite acquires the advisory lock, marshals value as indented JSON,
// writes it to a uniquely named temp file in path's directory, and renames
// it over path. Parent directories are created on demand.
func AtomicWrite(path string, value any, opts LockOptions) error {
	if path == "" {
		return ErrPathRequired
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("filestore: mkdir %s: %w", dir, err)
	}

	release, err := acquireLock(path, opts)
	if err != nil {
		return err
	}
	defer release()

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: marshal: %w", err)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp.%d.%d", filepath.Base(path), os.Getpid(), time.Now().UnixNano()))
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("filestore: write temp: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // cleanup on rename failure
		return fmt.Errorf("filestore: rename: %w", err)
	}
	return nil
}

// AtomicRead unmarshals the JSON object at path into dst. It reports
// (false, nil) — not an error — when the file is missing, empty, or fails
// to parse, matching the "none on missing/empty/parse-failure" contract.
func AtomicRead(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("filestore: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, nil
	}
	return true, nil
}

// BackupFile copies path to "<path>.backup.v<version>.<nanos>" and returns
// the new path.
func BackupFile(path string, version int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("filestore: read %s: %w", path, err)
	}
	newPath := fmt.Sprintf("%s.backup.v%d.%d", path, version, time.Now().UnixNano())
	if err := os.WriteFile(newPath, data, 0600); err != nil {
		return "", fmt.Errorf("filestore: write backup: %w", err)
	}
	return newPath, nil
}

// CleanTempFiles removes entries in dir whose names contain ".tmp." and
// returns the count removed.
func CleanTempFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("filestore: read dir %s: %w", dir, err)
	}
	count := 0
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp.") {
			if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
				count++
			}
		}
	}
	return count, nil
}
