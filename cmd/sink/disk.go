package main

import (
	"io/fs"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"go.uber.org/zap"

	"github.com/nicktill/tinystatsd/pkg/httpx"
)

// StorageUsage is the body of GET /v1/storage
type StorageUsage struct {
	Dir           string    `json:"dir"`
	UsedBytes     int64     `json:"used_bytes"`
	DiskFreeBytes uint64    `json:"disk_free_bytes"`
	DiskUsedPct   float64   `json:"disk_used_percent"`
	CheckedAt     time.Time `json:"checked_at"`
}

// StorageMonitor reports the size of the data directory. Walking the
// directory is slow, so results are cached.
type StorageMonitor struct {
	dataDir       string
	cacheDuration time.Duration

	mu     sync.Mutex
	cached StorageUsage

	usage func(path string) (*disk.UsageStat, error)
}

// NewStorageMonitor creates a storage monitor for dataDir
func NewStorageMonitor(dataDir string) *StorageMonitor {
	return &StorageMonitor{
		dataDir:       dataDir,
		cacheDuration: 10 * time.Second,
		usage:         disk.Usage,
	}
}

// Usage returns the cached usage, recomputing it when stale
func (sm *StorageMonitor) Usage() (StorageUsage, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.cached.CheckedAt.IsZero() && time.Since(sm.cached.CheckedAt) < sm.cacheDuration {
		return sm.cached, nil
	}

	used, err := dirSize(sm.dataDir)
	if err != nil {
		return StorageUsage{}, err
	}

	u := StorageUsage{
		Dir:       sm.dataDir,
		UsedBytes: used,
		CheckedAt: time.Now(),
	}
	if stat, err := sm.usage(sm.dataDir); err == nil {
		u.DiskFreeBytes = stat.Free
		u.DiskUsedPct = stat.UsedPercent
	}

	sm.cached = u
	return u, nil
}

// dirSize sums the logical size of every file under path
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// Badger removes files during compaction.
			return nil
		}
		size += info.Size()
		return nil
	})
	return size, err
}

func handleStorageUsage(monitor *StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usage, err := monitor.Usage()
		if err != nil {
			zap.L().Error("failed to calculate storage usage", zap.Error(err))
			httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to calculate storage usage")
			return
		}
		httpx.RespondJSON(w, http.StatusOK, usage)
	}
}
