package storage

import (
	"fmt"
	"path/filepath"
)

// Config holds buffer-pool and file-backend settings for constructing a
// BufferManager.
type Config struct {
	DataDir     string // directory holding the backing page file(s)
	NumFrames   int    // number of frames in the buffer pool. Default: 1000 frames (~4MB)
	UseMmap     bool   // use a memory-mapped FileManager instead of O_DIRECT
	UseDirectIO bool   // use an O_DIRECT FileManager; ignored if UseMmap is set
}

// DefaultConfig returns a configuration with sensible defaults: an
// in-process data directory, a 1000-frame pool, and O_DIRECT-backed files.
func DefaultConfig() *Config {
	return &Config{
		DataDir:     "./data",
		NumFrames:   1000, // 1000 pages = ~4MB buffer pool
		UseMmap:     false,
		UseDirectIO: true,
	}
}

// Closer is implemented by a FileManager whose backing resources (an open
// file descriptor, a memory mapping) must be released explicitly.
type Closer interface {
	Close() error
}

// OpenBufferManager builds a FileManager for dataFile within cfg.DataDir
// according to cfg's backend selection, and wraps it in a BufferManager of
// cfg.NumFrames frames. The returned Closer (nil for the in-memory
// backend) must be closed once the manager is no longer needed.
func OpenBufferManager(cfg *Config, dataFile string) (*BufferManager, Closer, error) {
	if cfg.NumFrames <= 0 {
		return nil, nil, fmt.Errorf("storage: NumFrames must be positive, got %d", cfg.NumFrames)
	}

	path := filepath.Join(cfg.DataDir, dataFile)

	var fm FileManager
	var closer Closer
	switch {
	case cfg.UseMmap:
		m, err := OpenMmapFileManager(path)
		if err != nil {
			return nil, nil, err
		}
		fm, closer = m, m
	case cfg.UseDirectIO:
		d, err := OpenDiskFileManager(path)
		if err != nil {
			return nil, nil, err
		}
		fm, closer = d, d
	default:
		fm = NewMemFileManager()
	}

	return NewBufferManager(fm, cfg.NumFrames), closer, nil
}
