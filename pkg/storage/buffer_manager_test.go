package storage

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// countingFileManager wraps a MemFileManager and counts ReadPage calls,
// optionally stalling every read so concurrent callers genuinely race
// against the same in-flight load instead of serializing by accident.
type countingFileManager struct {
	*MemFileManager
	reads atomic.Int64
	stall time.Duration
}

func newCountingFileManager(stall time.Duration) *countingFileManager {
	return &countingFileManager{MemFileManager: NewMemFileManager(), stall: stall}
}

func (c *countingFileManager) ReadPage(id PageID) ([]byte, error) {
	c.reads.Add(1)
	if c.stall > 0 {
		time.Sleep(c.stall)
	}
	return c.MemFileManager.ReadPage(id)
}

func TestBufferManager_ReadPageLoadsAndCaches(t *testing.T) {
	fm := newCountingFileManager(0)
	bm := NewBufferManager(fm, 4)
	id := NewPageID(1, 5)

	g1, err := bm.ReadPage(id)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	g1.Release()

	g2, err := bm.ReadPage(id)
	if err != nil {
		t.Fatalf("ReadPage (cached): %v", err)
	}
	g2.Release()

	if got := fm.reads.Load(); got != 1 {
		t.Errorf("FileManager.ReadPage called %d times, want 1", got)
	}
}

func TestBufferManager_WriteThenReadRoundTrips(t *testing.T) {
	fm := newCountingFileManager(0)
	bm := NewBufferManager(fm, 4)
	id := NewPageID(1, 0)

	wg, err := bm.ReadPageMut(id)
	if err != nil {
		t.Fatalf("ReadPageMut: %v", err)
	}
	sp := OpenSlottedPage(id, wg.Page().Bytes())
	sp.Page().InitHeap(id.PageNumber(), PageKindHeapUnsorted)
	idx, err := sp.Insert(record(32, 'z'))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	wg.MarkDirty()
	wg.Release()

	if err := bm.Flush(id); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	rg, err := bm.ReadPage(id)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	defer rg.Release()
	sp2 := OpenSlottedPage(id, rg.Page().Bytes())
	got, err := sp2.Read(idx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := record(32, 'z')
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBufferManager_AllocateNewPage(t *testing.T) {
	bm := NewBufferManager(newCountingFileManager(0), 4)

	id1, g1, err := bm.AllocateNewPage(7, PageKindHeapUnsorted)
	if err != nil {
		t.Fatalf("AllocateNewPage: %v", err)
	}
	if id1.PageNumber() != 0 {
		t.Errorf("first allocated page number = %d, want 0", id1.PageNumber())
	}
	g1.Release()

	id2, g2, err := bm.AllocateNewPage(7, PageKindHeapUnsorted)
	if err != nil {
		t.Fatalf("AllocateNewPage: %v", err)
	}
	if id2.PageNumber() != 1 {
		t.Errorf("second allocated page number = %d, want 1", id2.PageNumber())
	}
	g2.Release()
}

// Scenario F — concurrent cache miss on same PageId.
func TestScenarioF_ConcurrentCacheMissSamePage(t *testing.T) {
	fm := newCountingFileManager(20 * time.Millisecond)
	bm := NewBufferManager(fm, 4)
	id := NewPageID(9, 42)

	const n = 8
	guards := make([]*PageReadGuard, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			guard, err := bm.ReadPage(id)
			if err != nil {
				return err
			}
			guards[i] = guard
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}

	if got := fm.reads.Load(); got != 1 {
		t.Errorf("FileManager.ReadPage called %d times, want exactly 1", got)
	}

	frame, ok := bm.index[id]
	if !ok {
		t.Fatal("page not found in index after load")
	}
	if pc := bm.frames[frame.frame].PinCount(); pc != n {
		t.Errorf("pin count while guards held = %d, want %d", pc, n)
	}

	first := guards[0].Page().Bytes()
	for i, guard := range guards {
		if !equalBytes(first, guard.Page().Bytes()) {
			t.Errorf("guard %d saw different bytes than guard 0", i)
		}
	}
	for _, guard := range guards {
		guard.Release()
	}
}

// Scenario G — concurrent free-frame selection.
func TestScenarioG_ConcurrentFreeFrameSelection(t *testing.T) {
	fm := newCountingFileManager(20 * time.Millisecond)
	bm := NewBufferManager(fm, 1)

	var wg sync.WaitGroup
	results := make([]error, 2)
	ids := []PageID{NewPageID(1, 0), NewPageID(1, 1)}
	guards := make([]*PageReadGuard, 2)

	wg.Add(2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			defer wg.Done()
			guard, err := bm.ReadPage(ids[i])
			results[i] = err
			guards[i] = guard
		}()
	}
	wg.Wait()

	var successes, fulls int
	for i, err := range results {
		switch {
		case err == nil:
			successes++
			guards[i].Release()
		case isBufferErrKind(err, ErrBufferFull):
			fulls++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || fulls != 1 {
		t.Errorf("got %d successes and %d BufferFull, want 1 and 1", successes, fulls)
	}
}

func isBufferErrKind(err error, kind BufferErrorKind) bool {
	be, ok := err.(*BufferError)
	return ok && be.Kind == kind
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
