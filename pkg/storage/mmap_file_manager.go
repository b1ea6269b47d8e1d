package storage

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

// MmapFileManager is a FileManager backed by a memory-mapped file, growing
// the mapping in fixed-size increments as pages beyond its current extent
// are written. It favors read-heavy workloads: a cached page read is a
// direct memory copy, with no syscall on the hot path.
type MmapFileManager struct {
	mu         sync.RWMutex
	file       *os.File
	mapped     []byte
	mappedSize int64
	growBy     int64
}

const mmapDefaultInitialSize = 64 * 1024 * 1024 // 64MiB
const mmapDefaultGrowBy = 16 * 1024 * 1024      // 16MiB

// OpenMmapFileManager opens (creating if necessary) path and maps it into
// the process address space.
func OpenMmapFileManager(path string) (*MmapFileManager, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("mmapfilemanager: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmapfilemanager: stat %s: %w", path, err)
	}

	m := &MmapFileManager{file: f, growBy: mmapDefaultGrowBy}
	initial := int64(mmapDefaultInitialSize)
	if info.Size() > initial {
		initial = info.Size()
	}
	if err := m.remap(initial); err != nil {
		f.Close()
		return nil, err
	}
	return m, nil
}

// remap unmaps the current region (if any), grows the backing file to
// newSize, and maps the larger region in its place.
func (m *MmapFileManager) remap(newSize int64) error {
	if m.mapped != nil {
		if err := syscall.Munmap(m.mapped); err != nil {
			return fmt.Errorf("mmapfilemanager: munmap: %w", err)
		}
		m.mapped = nil
	}
	if err := m.file.Truncate(newSize); err != nil {
		return fmt.Errorf("mmapfilemanager: truncate: %w", err)
	}
	data, err := syscall.Mmap(int(m.file.Fd()), 0, int(newSize), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmapfilemanager: mmap: %w", err)
	}
	m.mapped = data
	m.mappedSize = newSize
	return nil
}

func (m *MmapFileManager) pageOffset(id PageID) int64 {
	return int64(id.PageNumber()) * PageSize
}

func (m *MmapFileManager) ReadPage(id PageID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	off := m.pageOffset(id)
	if off+PageSize > m.mappedSize {
		return make([]byte, PageSize), nil
	}
	buf := make([]byte, PageSize)
	copy(buf, m.mapped[off:off+PageSize])
	return buf, nil
}

func (m *MmapFileManager) WritePage(id PageID, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("mmapfilemanager: write buffer must be exactly %d bytes, got %d", PageSize, len(buf))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	off := m.pageOffset(id)
	if off+PageSize > m.mappedSize {
		newSize := m.mappedSize + m.growBy
		if off+PageSize > newSize {
			newSize = off + PageSize + m.growBy
		}
		if err := m.remap(newSize); err != nil {
			return err
		}
	}
	copy(m.mapped[off:off+PageSize], buf)
	return nil
}

// Sync flushes the mapped region to disk via msync.
func (m *MmapFileManager) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mapped == nil {
		return nil
	}
	return syscall.Msync(m.mapped, syscall.MS_SYNC)
}

// Close syncs and unmaps the file, then closes the descriptor.
func (m *MmapFileManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mapped != nil {
		if err := syscall.Msync(m.mapped, syscall.MS_SYNC); err != nil {
			return fmt.Errorf("mmapfilemanager: sync before close: %w", err)
		}
		if err := syscall.Munmap(m.mapped); err != nil {
			return fmt.Errorf("mmapfilemanager: munmap: %w", err)
		}
		m.mapped = nil
	}
	return m.file.Close()
}
