package storage

import (
	"sync"
)

type entryState int

const (
	entryLoading entryState = iota
	entryReady
	entryFailed
)

// pageEntry is the page-index's value: a shared, ref-counted-by-pointer
// handle describing where (or whether) a page currently lives in the
// buffer pool. Multiple goroutines requesting the same uncached PageID
// concurrently all observe the same pageEntry and block on its condition
// variable instead of racing the FileManager.
type pageEntry struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state entryState
	frame int
	err   error
}

func newPageEntry() *pageEntry {
	e := &pageEntry{state: entryLoading}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// BufferManager is the fixed-size page cache sitting between slotted-page
// operations and a FileManager. It never resizes its frame array and
// implements no eviction policy: a page is only ever loaded into a free
// frame, and once every frame is occupied further misses fail with
// ErrBufferFull.
type BufferManager struct {
	fm     FileManager
	frames []*BufferFrame

	indexMu sync.RWMutex
	index   map[PageID]*pageEntry

	frameMu  sync.Mutex
	nextScan int

	allocMu     sync.Mutex
	nextPageNum map[uint32]uint32
}

// NewBufferManager creates a buffer pool of numFrames frames over fm.
func NewBufferManager(fm FileManager, numFrames int) *BufferManager {
	frames := make([]*BufferFrame, numFrames)
	for i := range frames {
		frames[i] = newBufferFrame()
	}
	return &BufferManager{
		fm:          fm,
		frames:      frames,
		index:       make(map[PageID]*pageEntry),
		nextPageNum: make(map[uint32]uint32),
	}
}

// PageReadGuard holds a frame's data latch in read mode. Release must be
// called exactly once, and the returned Page must not be used afterward.
type PageReadGuard struct {
	frame *BufferFrame
	page  *Page
}

func (g *PageReadGuard) Page() *Page { return g.page }

func (g *PageReadGuard) Release() {
	g.frame.Unpin()
	g.frame.data.RUnlock()
}

// PageWriteGuard holds a frame's data latch in write mode.
type PageWriteGuard struct {
	frame *BufferFrame
	page  *Page
}

func (g *PageWriteGuard) Page() *Page { return g.page }

// MarkDirty records that the guard's holder mutated the page. It is the
// caller's responsibility to call this before Release whenever it wrote
// through Page(); the buffer manager never infers dirtiness on its own.
func (g *PageWriteGuard) MarkDirty() { g.frame.MarkDirty() }

func (g *PageWriteGuard) Release() {
	g.frame.Unpin()
	g.frame.data.Unlock()
}

// ReadPage fetches id, pinning it and returning a read-latched guard.
func (bm *BufferManager) ReadPage(id PageID) (*PageReadGuard, error) {
	frame, err := bm.fetch(id)
	if err != nil {
		return nil, err
	}
	frame.data.RLock()
	return &PageReadGuard{frame: frame, page: NewPage(frame.Bytes())}, nil
}

// ReadPageMut fetches id, pinning it and returning a write-latched guard.
func (bm *BufferManager) ReadPageMut(id PageID) (*PageWriteGuard, error) {
	frame, err := bm.fetch(id)
	if err != nil {
		return nil, err
	}
	frame.data.Lock()
	return &PageWriteGuard{frame: frame, page: NewPage(frame.Bytes())}, nil
}

// fetch returns a pinned, unlatched frame holding id's bytes, loading it
// from the FileManager first if necessary. The caller is responsible for
// acquiring the frame's data latch in the mode it needs.
func (bm *BufferManager) fetch(id PageID) (*BufferFrame, error) {
	bm.indexMu.RLock()
	entry, ok := bm.index[id]
	bm.indexMu.RUnlock()

	if !ok {
		var loaded bool
		entry, loaded = bm.startLoad(id)
		if loaded {
			return bm.runLoad(id, entry)
		}
		// Someone beat us to it between the RUnlock above and startLoad;
		// entry is now whatever they installed. Fall through to wait on it.
	}

	return bm.waitReady(entry)
}

// startLoad installs a fresh Loading pageEntry for id if none exists yet.
// It reports loaded=true iff this call is the one that must perform the
// load; otherwise it returns whatever entry now exists.
func (bm *BufferManager) startLoad(id PageID) (*pageEntry, bool) {
	bm.indexMu.Lock()
	defer bm.indexMu.Unlock()
	if existing, ok := bm.index[id]; ok {
		return existing, false
	}
	entry := newPageEntry()
	bm.index[id] = entry
	return entry, true
}

// waitReady blocks on entry until it leaves the Loading state, returning
// the frame on success or a LoadInterrupted error if the load that was in
// flight for it failed.
func (bm *BufferManager) waitReady(entry *pageEntry) (*BufferFrame, error) {
	entry.mu.Lock()
	for entry.state == entryLoading {
		entry.cond.Wait()
	}
	if entry.state == entryFailed {
		entry.mu.Unlock()
		return nil, newBufferError(ErrLoadInterrupted, PageID(0), entry.err)
	}
	frame := bm.frames[entry.frame]
	frame.Pin() // pinned while still holding entry.mu, closing the eviction race
	entry.mu.Unlock()
	return frame, nil
}

// runLoad performs the actual FileManager read for a newly-installed
// Loading entry, claiming a frame, publishing it, and waking any
// goroutines that queued up behind this load.
func (bm *BufferManager) runLoad(id PageID, entry *pageEntry) (*BufferFrame, error) {
	frameIdx, err := bm.acquireFrame()
	if err != nil {
		bm.failLoad(id, entry, err)
		return nil, err
	}
	frame := bm.frames[frameIdx]

	// Hold the write-latch across the Loading -> Ready transition: no
	// waiter woken by entry.cond can observe a half-loaded frame, because
	// it must itself acquire this latch (read or write) before touching
	// frame.Bytes().
	frame.data.Lock()
	frame.Pin()

	buf, readErr := bm.fm.ReadPage(id)
	if readErr != nil {
		frame.data.Unlock()
		frame.Unpin()
		frame.unclaim()
		bufErr := newBufferError(ErrDiskIO, id, readErr)
		bm.failLoad(id, entry, bufErr)
		return nil, bufErr
	}

	copy(frame.Bytes(), buf)
	frame.clearDirty()
	frame.publish(id, entry)

	entry.mu.Lock()
	entry.frame = frameIdx
	entry.state = entryReady
	entry.cond.Broadcast()
	entry.mu.Unlock()

	frame.data.Unlock()
	return frame, nil
}

func (bm *BufferManager) failLoad(id PageID, entry *pageEntry, err error) {
	bm.indexMu.Lock()
	delete(bm.index, id)
	bm.indexMu.Unlock()

	entry.mu.Lock()
	entry.state = entryFailed
	entry.err = err
	entry.cond.Broadcast()
	entry.mu.Unlock()
}

// acquireFrame returns the index of a free frame to load into. Eviction of
// occupied frames is out of scope for the current replacement policy (see
// BufferFrame's claimForEviction, kept as the extensibility hook a future
// policy would call from here); until one is wired in, a full pool returns
// ErrBufferFull.
func (bm *BufferManager) acquireFrame() (int, error) {
	bm.frameMu.Lock()
	defer bm.frameMu.Unlock()

	n := len(bm.frames)
	for i := 0; i < n; i++ {
		idx := (bm.nextScan + i) % n
		if bm.frames[idx].tryClaimFree() {
			bm.nextScan = (idx + 1) % n
			return idx, nil
		}
	}

	return 0, newBufferError(ErrBufferFull, PageID(0), nil)
}

// AllocateNewPage claims a frame for a brand new, never-before-written
// page within fileHash, initializes it as a fresh heap page of kind, and
// returns it pinned and write-latched.
func (bm *BufferManager) AllocateNewPage(fileHash uint32, kind PageKind) (PageID, *PageWriteGuard, error) {
	pageNum := bm.nextPageNumber(fileHash)
	id := NewPageID(fileHash, pageNum)

	frameIdx, err := bm.acquireFrame()
	if err != nil {
		return PageID(0), nil, err
	}
	frame := bm.frames[frameIdx]

	frame.data.Lock()
	frame.Pin()

	entry := newPageEntry()
	entry.state = entryReady
	entry.frame = frameIdx

	p := NewPage(frame.Bytes())
	p.InitHeap(pageNum, kind)
	frame.MarkDirty()
	frame.publish(id, entry)

	bm.indexMu.Lock()
	bm.index[id] = entry
	bm.indexMu.Unlock()

	return id, &PageWriteGuard{frame: frame, page: p}, nil
}

func (bm *BufferManager) nextPageNumber(fileHash uint32) uint32 {
	bm.allocMu.Lock()
	defer bm.allocMu.Unlock()
	n := bm.nextPageNum[fileHash]
	bm.nextPageNum[fileHash] = n + 1
	return n
}

// Flush writes id's frame back to the FileManager if it is both currently
// cached and dirty. It is a no-op (not an error) for an uncached page.
func (bm *BufferManager) Flush(id PageID) error {
	bm.indexMu.RLock()
	entry, ok := bm.index[id]
	bm.indexMu.RUnlock()
	if !ok {
		return nil
	}

	entry.mu.Lock()
	if entry.state != entryReady {
		entry.mu.Unlock()
		return nil
	}
	frame := bm.frames[entry.frame]
	entry.mu.Unlock()

	frame.data.RLock()
	defer frame.data.RUnlock()
	if !frame.IsDirty() {
		return nil
	}
	if err := bm.fm.WritePage(id, frame.Bytes()); err != nil {
		return newBufferError(ErrDiskIO, id, err)
	}
	frame.clearDirty()
	return nil
}

// FlushAll flushes every currently cached, dirty frame.
func (bm *BufferManager) FlushAll() error {
	bm.indexMu.RLock()
	ids := make([]PageID, 0, len(bm.index))
	for id := range bm.index {
		ids = append(ids, id)
	}
	bm.indexMu.RUnlock()

	for _, id := range ids {
		if err := bm.Flush(id); err != nil {
			return err
		}
	}
	return nil
}
