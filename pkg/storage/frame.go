package storage

import (
	"sync"
	"sync/atomic"

	"github.com/davrodriguez/pagestore/pkg/concurrent"
)

// frameState tracks a BufferFrame's occupancy independent of its page
// bytes, so the buffer manager can reserve a frame for an in-flight load
// (frameClaimed) without another goroutine's free-frame scan picking the
// same frame out from under it.
type frameState int

const (
	frameFree frameState = iota
	frameClaimed
	frameOccupied
)

// BufferFrame owns one PageSize-byte slab of the buffer pool. Its page
// bytes are guarded by a read-write latch so many readers or a single
// writer may hold it at once; its occupancy is guarded by a separate,
// short-held latch so a frame's identity can be inspected or reserved
// without blocking on whatever page I/O currently holds the data latch.
type BufferFrame struct {
	data sync.RWMutex
	buf  [PageSize]byte

	occMu sync.Mutex
	state frameState
	pageID PageID
	owner  *pageEntry

	pinCount *concurrent.Counter
	dirty    atomic.Bool
}

func newBufferFrame() *BufferFrame {
	return &BufferFrame{pinCount: concurrent.NewCounter()}
}

// Occupant reports the PageID currently held by the frame, if any. A
// frame mid-load (frameClaimed) is not yet reported as occupied.
func (f *BufferFrame) Occupant() (PageID, bool) {
	f.occMu.Lock()
	defer f.occMu.Unlock()
	return f.pageID, f.state == frameOccupied
}

// tryClaimFree reserves the frame for a new load iff it is currently free.
func (f *BufferFrame) tryClaimFree() bool {
	f.occMu.Lock()
	defer f.occMu.Unlock()
	if f.state != frameFree {
		return false
	}
	f.state = frameClaimed
	return true
}

// claimForEviction transitions an occupied, unpinned frame straight to
// frameClaimed so no concurrent scan can pick it up mid-eviction. ok is
// false if the frame was pinned or already claimed by the time this ran.
func (f *BufferFrame) claimForEviction() (dirty bool, ok bool) {
	f.occMu.Lock()
	defer f.occMu.Unlock()
	if f.state != frameOccupied || f.pinCount.Load() != 0 {
		return false, false
	}
	dirty = f.dirty.Load()
	f.state = frameClaimed
	return dirty, true
}

// publish marks a claimed frame as occupied by id, owned by entry. Callers
// must hold the frame's data write-latch across the transition from
// Loading to Ready so a waiter can never observe a half-loaded frame.
func (f *BufferFrame) publish(id PageID, entry *pageEntry) {
	f.occMu.Lock()
	f.state = frameOccupied
	f.pageID = id
	f.owner = entry
	f.occMu.Unlock()
}

// unclaim rolls back a claim that failed before it could be published,
// returning the frame to the free pool.
func (f *BufferFrame) unclaim() {
	f.occMu.Lock()
	f.state = frameFree
	f.pageID = PageID(0)
	f.owner = nil
	f.occMu.Unlock()
}

// Pin increments the frame's pin count, preventing eviction.
func (f *BufferFrame) Pin() uint64 {
	return f.pinCount.Inc()
}

// Unpin decrements the frame's pin count.
func (f *BufferFrame) Unpin() uint64 {
	return f.pinCount.Dec()
}

// PinCount returns the current pin count.
func (f *BufferFrame) PinCount() uint64 {
	return f.pinCount.Load()
}

// IsPinned reports whether the frame is currently held by any reader or
// writer and therefore ineligible for eviction.
func (f *BufferFrame) IsPinned() bool {
	return f.pinCount.Load() > 0
}

// MarkDirty records that the frame's bytes have been mutated since the
// last flush.
func (f *BufferFrame) MarkDirty() {
	f.dirty.Store(true)
}

// IsDirty reports whether the frame has unflushed mutations.
func (f *BufferFrame) IsDirty() bool {
	return f.dirty.Load()
}

func (f *BufferFrame) clearDirty() {
	f.dirty.Store(false)
}

// Bytes returns the frame's backing storage. Callers must hold data (via
// RLock/Lock) appropriately before touching the returned slice.
func (f *BufferFrame) Bytes() []byte {
	return f.buf[:]
}
