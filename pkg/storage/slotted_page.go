package storage

import (
	"fmt"
	"sort"
)

// SlotChoiceKind distinguishes reusing an invalidated slot from allocating
// a brand new one at the tail of the slot directory.
type SlotChoiceKind int

const (
	SlotNew SlotChoiceKind = iota
	SlotReuse
)

// SlotChoice is the slot-allocation half of an InsertionPlan.
type SlotChoice struct {
	Kind  SlotChoiceKind
	Index uint16 // meaningful only when Kind == SlotReuse
}

// OffsetKind distinguishes a directly-computed offset from one that is only
// known after a compaction pass runs.
type OffsetKind int

const (
	OffsetExact OffsetKind = iota
	OffsetAfterCompaction
)

// InsertionPlan is the read-only output of Plan: the slot and offset an
// Apply call with the same record size would use. Callers (e.g. a
// write-ahead log) can log the plan before it is ever applied to a page.
type InsertionPlan struct {
	Slot       SlotChoice
	OffsetKind OffsetKind
	Offset     uint16 // meaningful only when OffsetKind == OffsetExact
	RecordSize uint16
}

// SlottedPage is the unsorted-heap operations layer over a Page: insertion
// planning and execution, read, update, delete and compaction, all
// preserving the stable-slot-number invariant.
type SlottedPage struct {
	id   PageID
	page *Page
}

// NewSlottedPage initializes buf (which must be exactly PageSize bytes) as
// a fresh, empty heap page and wraps it.
func NewSlottedPage(id PageID, buf []byte, kind PageKind) *SlottedPage {
	page := NewPage(buf)
	page.InitHeap(id.PageNumber(), kind)
	return &SlottedPage{id: id, page: page}
}

// OpenSlottedPage wraps an existing, already-initialized page buffer
// without touching its contents.
func OpenSlottedPage(id PageID, buf []byte) *SlottedPage {
	return &SlottedPage{id: id, page: NewPage(buf)}
}

// ID returns the PageID this slotted page was opened with.
func (sp *SlottedPage) ID() PageID {
	return sp.id
}

// Page exposes the underlying layout-primitives view, for callers that need
// raw header/slot access (e.g. to read sibling pointers).
func (sp *SlottedPage) Page() *Page {
	return sp.page
}

func gapU16(end, start uint16) uint16 {
	if end < start {
		return 0
	}
	return end - start
}

// Read returns the record stored at slot i. The returned slice aliases the
// page's bytes and must not be retained past the guard that made the page
// available.
func (sp *SlottedPage) Read(i uint16) ([]byte, error) {
	s, err := sp.page.Slots().Get(i)
	if err != nil {
		return nil, wrapPageErr(sp.id, "read", ErrSlotOutOfRange, "")
	}
	if !s.IsValid() {
		return nil, wrapPageErr(sp.id, "read", ErrSlotInvalidated, "")
	}
	off, length := s.Offset(), s.Length()
	return sp.page.Bytes()[off : off+length], nil
}

// Iterate calls fn once per valid slot, in ascending slot-index order,
// stopping early if fn returns an error. It is not restartable mid-way:
// callers that need to iterate again start over from slot 0.
func (sp *SlottedPage) Iterate(fn func(slot uint16, record []byte) error) error {
	slots := sp.page.Slots()
	for i := uint16(0); i < slots.Count(); i++ {
		s, err := slots.Get(i)
		if err != nil {
			return wrapPageErr(sp.id, "iterate", ErrSlotOutOfRange, "")
		}
		if !s.IsValid() {
			continue
		}
		off, length := s.Offset(), s.Length()
		if err := fn(i, sp.page.Bytes()[off:off+length]); err != nil {
			return err
		}
	}
	return nil
}

func (sp *SlottedPage) findReusableSlot(slots SlotArrayView) (uint16, bool) {
	for i := uint16(0); i < slots.Count(); i++ {
		s, err := slots.Get(i)
		if err != nil {
			break
		}
		if !s.IsValid() {
			return i, true
		}
	}
	return 0, false
}

func (sp *SlottedPage) validSlotsByOffset(slots SlotArrayView) []SlotView {
	out := make([]SlotView, 0, slots.Count())
	for i := uint16(0); i < slots.Count(); i++ {
		s, err := slots.Get(i)
		if err != nil {
			break
		}
		if s.IsValid() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset() < out[j].Offset() })
	return out
}

// planOffset runs the offset-probing order from the insertion algorithm
// (exact tail fit, internal gap, pre-free_start gap, then "needs
// compaction"), independent of how the slot itself was chosen. Update
// reuses this directly so it can force reuse of its own slot index instead
// of whichever tombstone Plan's scan would otherwise pick.
func (sp *SlottedPage) planOffset(size uint16, needNewSlot bool) (OffsetKind, uint16) {
	h := sp.page.Header()
	slots := sp.page.Slots()

	freeEndEffective := h.FreeEnd()
	if needNewSlot {
		freeEndEffective -= SlotSize
	}

	// (a) tail gap between free_start and the effective free_end.
	if size <= gapU16(freeEndEffective, h.FreeStart()) {
		return OffsetExact, h.FreeStart()
	}

	// (b) first-fit gap between two consecutive valid records, by offset.
	valid := sp.validSlotsByOffset(slots)
	for i := 0; i+1 < len(valid); i++ {
		a, b := valid[i], valid[i+1]
		aEnd := a.Offset() + a.Length()
		if aEnd < b.Offset() && b.Offset()-aEnd >= size {
			return OffsetExact, aEnd
		}
	}

	// (c) gap between the last valid record's end and free_start.
	lastEnd := uint16(HeaderSize)
	if len(valid) > 0 {
		last := valid[len(valid)-1]
		lastEnd = last.Offset() + last.Length()
	}
	if size <= gapU16(h.FreeStart(), lastEnd) {
		return OffsetExact, lastEnd
	}

	// (d) nothing fits without reorganizing the page.
	return OffsetAfterCompaction, 0
}

// Plan computes where an insertion of recordSize bytes would land, without
// mutating the page. It returns InsertionInsufficientSpace immediately if
// there isn't enough total free space to ever satisfy the insert, even
// after compaction.
func (sp *SlottedPage) Plan(recordSize int) (InsertionPlan, error) {
	if recordSize <= 0 || recordSize > PageSize {
		return InsertionPlan{}, wrapPageErr(sp.id, "plan", ErrHeaderInvalidField, "record size out of range")
	}
	size := uint16(recordSize)
	h := sp.page.Header()
	slots := sp.page.Slots()

	reuseIdx, hasReuse := sp.findReusableSlot(slots)

	required := size
	if !hasReuse {
		required += SlotSize
	}
	if required > h.FreeSpace() {
		return InsertionPlan{}, wrapPageErr(sp.id, "plan", ErrInsertionInsufficientSpace,
			fmt.Sprintf("need %d bytes, have %d", required, h.FreeSpace()))
	}

	slotChoice := SlotChoice{Kind: SlotNew}
	if hasReuse {
		slotChoice = SlotChoice{Kind: SlotReuse, Index: reuseIdx}
	}

	offKind, offset := sp.planOffset(size, !hasReuse)

	return InsertionPlan{
		Slot:       slotChoice,
		OffsetKind: offKind,
		Offset:     offset,
		RecordSize: size,
	}, nil
}

// Apply executes a previously computed InsertionPlan, writing record and
// returning the slot index it was assigned.
func (sp *SlottedPage) Apply(plan InsertionPlan, record []byte) (uint16, error) {
	recordSize := uint16(len(record))
	if recordSize != plan.RecordSize {
		return 0, wrapPageErr(sp.id, "apply", ErrHeaderInvalidField, "record does not match planned size")
	}

	offset := plan.Offset
	if plan.OffsetKind == OffsetAfterCompaction {
		if err := sp.Compact(); err != nil {
			return 0, err
		}
		offset = sp.page.Header().FreeStart()
	}

	preFreeStart := sp.page.Header().FreeStart()
	copy(sp.page.Bytes()[offset:int(offset)+int(recordSize)], record)

	var idx uint16
	if plan.Slot.Kind == SlotReuse {
		idx = plan.Slot.Index
		if err := sp.page.SlotsMut().Set(idx, offset, recordSize); err != nil {
			return 0, wrapPageErr(sp.id, "apply", ErrSlotOutOfRange, "")
		}
	} else {
		sm := sp.page.SlotsMut()
		var err error
		idx, err = sm.PushNew(offset, recordSize)
		if err != nil {
			return 0, wrapPageErr(sp.id, "apply", ErrInsertionInsufficientSpace, err.Error())
		}
	}

	h := sp.page.HeaderMut()
	if offset == preFreeStart {
		h.SetFreeStart(offset + recordSize)
	}

	consumed := recordSize
	if plan.Slot.Kind == SlotNew {
		consumed += SlotSize
	}
	h.SetFreeSpace(h.FreeSpace() - consumed)

	return idx, nil
}

// Insert is the one-shot convenience that plans and immediately applies.
// Callers that need to log the plan before mutating the page (e.g. ahead
// of a WAL record) should call Plan and Apply separately instead.
func (sp *SlottedPage) Insert(record []byte) (uint16, error) {
	plan, err := sp.Plan(len(record))
	if err != nil {
		return 0, err
	}
	return sp.Apply(plan, record)
}

// Delete invalidates slot i. It is idempotent: deleting an already-deleted
// slot succeeds with no effect. The slot's index is never reclaimed or
// renumbered; it only becomes eligible for reuse by a future insertion.
func (sp *SlottedPage) Delete(i uint16) error {
	s, err := sp.page.Slots().Get(i)
	if err != nil {
		return wrapPageErr(sp.id, "delete", ErrSlotOutOfRange, "")
	}
	if !s.IsValid() {
		return nil
	}
	off, length := s.Offset(), s.Length()
	h := sp.page.HeaderMut()

	if off+length == h.FreeStart() {
		// Trailing-delete optimization: reclaim the space immediately and
		// never mark the page as fragmented for it.
		h.SetFreeStart(off)
	} else {
		h.SetCanCompact(true)
	}

	if err := sp.page.SlotsMut().Set(i, 0, 0); err != nil {
		return wrapPageErr(sp.id, "delete", ErrSlotOutOfRange, "")
	}
	h.SetFreeSpace(h.FreeSpace() + length)
	return nil
}

// Update overwrites slot i's record with newRecord. A shorter or
// equal-length record is written in place. A longer record deletes the old
// slot and re-plans a new location for it, but always reuses the same slot
// index: the stable-slot-number invariant holds across updates of any size.
//
// If the grown record still doesn't fit after the delete (even accounting
// for a subsequent compaction), the slot is left deleted and
// InsertionInsufficientSpace is returned: the old record is not restored,
// so this failure leaves the page changed.
func (sp *SlottedPage) Update(i uint16, newRecord []byte) error {
	s, err := sp.page.Slots().Get(i)
	if err != nil {
		return wrapPageErr(sp.id, "update", ErrSlotOutOfRange, "")
	}
	if !s.IsValid() {
		return wrapPageErr(sp.id, "update", ErrSlotInvalidated, "")
	}
	oldOff, oldLen := s.Offset(), s.Length()
	newLen := uint16(len(newRecord))

	if newLen <= oldLen {
		copy(sp.page.Bytes()[oldOff:oldOff+newLen], newRecord)
		if err := sp.page.SlotsMut().Set(i, oldOff, newLen); err != nil {
			return wrapPageErr(sp.id, "update", ErrSlotOutOfRange, "")
		}
		h := sp.page.HeaderMut()
		freed := oldLen - newLen
		h.SetFreeSpace(h.FreeSpace() + freed)
		if oldOff+oldLen == h.FreeStart() {
			h.SetFreeStart(h.FreeStart() - freed)
		} else if freed > 0 {
			// Shrinking a non-trailing record leaves a gap behind it, same
			// as a mid-page delete.
			h.SetCanCompact(true)
		}
		return nil
	}

	if err := sp.Delete(i); err != nil {
		return err
	}

	h := sp.page.Header()
	if newLen > h.FreeSpace() {
		return wrapPageErr(sp.id, "update", ErrInsertionInsufficientSpace,
			fmt.Sprintf("need %d bytes, have %d even after freeing the old slot", newLen, h.FreeSpace()))
	}

	offKind, offset := sp.planOffset(newLen, false)
	if offKind == OffsetAfterCompaction {
		if err := sp.Compact(); err != nil {
			return err
		}
		offset = sp.page.Header().FreeStart()
	}

	preFreeStart := sp.page.Header().FreeStart()
	copy(sp.page.Bytes()[offset:int(offset)+int(newLen)], newRecord)
	if err := sp.page.SlotsMut().Set(i, offset, newLen); err != nil {
		return wrapPageErr(sp.id, "update", ErrSlotOutOfRange, "")
	}

	hm := sp.page.HeaderMut()
	if offset == preFreeStart {
		hm.SetFreeStart(offset + newLen)
	}
	hm.SetFreeSpace(hm.FreeSpace() - newLen)
	return nil
}

// Compact reorganizes the data region to remove fragmentation, iterating
// the slot array in ascending slot-index order so that no slot is ever
// renumbered: a record previously readable at slot i remains readable at
// slot i, at a possibly different offset, with identical bytes.
func (sp *SlottedPage) Compact() error {
	h := sp.page.Header()
	slots := sp.page.Slots()

	scratch := make([]byte, h.FreeStart()-HeaderSize)
	type placement struct {
		index  uint16
		offset uint16
		length uint16
	}
	placements := make([]placement, 0, slots.Count())

	var cursor uint16
	for i := uint16(0); i < slots.Count(); i++ {
		s, err := slots.Get(i)
		if err != nil {
			return wrapPageErr(sp.id, "compact", ErrCompactionFailed, err.Error())
		}
		if !s.IsValid() {
			continue
		}
		off, length := s.Offset(), s.Length()
		copy(scratch[cursor:cursor+length], sp.page.Bytes()[off:off+length])
		placements = append(placements, placement{i, HeaderSize + cursor, length})
		cursor += length
	}

	dataRegion := sp.page.Bytes()[HeaderSize:h.FreeStart()]
	for i := range dataRegion {
		dataRegion[i] = 0
	}
	copy(sp.page.Bytes()[HeaderSize:HeaderSize+cursor], scratch[:cursor])

	sm := sp.page.SlotsMut()
	for _, pl := range placements {
		if err := sm.Set(pl.index, pl.offset, pl.length); err != nil {
			return wrapPageErr(sp.id, "compact", ErrCompactionFailed, err.Error())
		}
	}

	hm := sp.page.HeaderMut()
	hm.SetFreeStart(HeaderSize + cursor)
	hm.SetCanCompact(false)
	hm.SetFreeSpace(hm.FreeEnd() - (HeaderSize + cursor))

	return nil
}
