package storage

import "testing"

func freshPage(id PageID) *Page {
	buf := make([]byte, PageSize)
	p := NewPage(buf)
	p.InitHeap(id.PageNumber(), PageKindHeapUnsorted)
	return p
}

func TestPage_InitHeap(t *testing.T) {
	p := freshPage(NewPageID(1, 7))
	h := p.Header()

	if h.PageNumber() != 7 {
		t.Errorf("PageNumber = %d, want 7", h.PageNumber())
	}
	if h.Kind() != PageKindHeapUnsorted {
		t.Errorf("Kind = %v, want HeapUnsorted", h.Kind())
	}
	if h.SlotCount() != 0 {
		t.Errorf("SlotCount = %d, want 0", h.SlotCount())
	}
	if h.FreeStart() != HeaderSize {
		t.Errorf("FreeStart = %d, want %d", h.FreeStart(), HeaderSize)
	}
	if h.FreeEnd() != PageSize {
		t.Errorf("FreeEnd = %d, want %d", h.FreeEnd(), PageSize)
	}
	if h.FreeSpace() != PageSize-HeaderSize {
		t.Errorf("FreeSpace = %d, want %d", h.FreeSpace(), PageSize-HeaderSize)
	}
	if h.CanCompact() {
		t.Error("CanCompact = true on a fresh page")
	}

	for i, b := range p.Bytes()[HeaderSize:] {
		if b != 0 {
			t.Fatalf("byte %d of fresh data region is %d, want 0", i, b)
		}
	}
}

func TestPage_NewPageWrongSizePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewPage did not panic on a short buffer")
		}
	}()
	NewPage(make([]byte, PageSize-1))
}

func TestSlotArray_PushNewAndGet(t *testing.T) {
	p := freshPage(NewPageID(0, 0))
	sm := p.SlotsMut()

	idx, err := sm.PushNew(HeaderSize, 42)
	if err != nil {
		t.Fatalf("PushNew: %v", err)
	}
	if idx != 0 {
		t.Fatalf("PushNew returned index %d, want 0", idx)
	}

	s, err := p.Slots().Get(0)
	if err != nil {
		t.Fatalf("Get(0): %v", err)
	}
	if s.Offset() != HeaderSize || s.Length() != 42 {
		t.Errorf("slot 0 = (%d,%d), want (%d,42)", s.Offset(), s.Length(), HeaderSize)
	}
	if !s.IsValid() {
		t.Error("freshly pushed slot reports invalid")
	}
	if p.Header().SlotCount() != 1 {
		t.Errorf("SlotCount = %d, want 1", p.Header().SlotCount())
	}
	if p.Header().FreeEnd() != PageSize-SlotSize {
		t.Errorf("FreeEnd = %d, want %d", p.Header().FreeEnd(), PageSize-SlotSize)
	}
}

func TestSlotArray_GetOutOfRange(t *testing.T) {
	p := freshPage(NewPageID(0, 0))
	if _, err := p.Slots().Get(0); err == nil {
		t.Fatal("Get on an empty slot array did not error")
	}
}

func TestSlotView_TombstoneIsInvalid(t *testing.T) {
	p := freshPage(NewPageID(0, 0))
	sm := p.SlotsMut()
	if _, err := sm.PushNew(HeaderSize, 10); err != nil {
		t.Fatalf("PushNew: %v", err)
	}
	if err := p.SlotsMut().Set(0, 0, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s, err := p.Slots().Get(0)
	if err != nil {
		t.Fatalf("Get(0): %v", err)
	}
	if s.IsValid() {
		t.Error("slot set to (0,0) reports valid")
	}
}
