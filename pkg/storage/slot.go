package storage

import "encoding/binary"

// SlotSize is the fixed width of one slot directory entry: a 2-byte offset
// and a 2-byte length.
const SlotSize = 4

// SlotView borrows one slot's 4 bytes, tagged with the slot index it was
// read from so callers can identify it without separate bookkeeping.
type SlotView struct {
	index uint16
	buf   []byte // exactly SlotSize bytes
}

func (s SlotView) Index() uint16 {
	return s.index
}

func (s SlotView) Offset() uint16 {
	return binary.LittleEndian.Uint16(s.buf[0:2])
}

func (s SlotView) Length() uint16 {
	return binary.LittleEndian.Uint16(s.buf[2:4])
}

// IsValid reports whether the slot currently points at a live record.
// A slot with length 0 is a tombstone (offset is also 0 by convention).
func (s SlotView) IsValid() bool {
	return s.Length() > 0
}

// SlotArrayView is a zero-copy, read-only borrow of the slot directory,
// which occupies the tail of the page: slot i lives at bytes
// [len-(i+1)*SlotSize, len-i*SlotSize) within the borrowed region.
type SlotArrayView struct {
	buf   []byte // the full 4096-byte page buffer
	count uint16
}

func newSlotArrayView(buf []byte, count uint16) SlotArrayView {
	return SlotArrayView{buf: buf, count: count}
}

func (v SlotArrayView) Count() uint16 {
	return v.count
}

func slotPos(i uint16) int {
	return PageSize - int(i+1)*SlotSize
}

// Get returns slot i, or ErrSlotOutOfRange if i is not within [0, count).
func (v SlotArrayView) Get(i uint16) (SlotView, error) {
	if i >= v.count {
		return SlotView{}, newOpError("slot.get", ErrSlotOutOfRange, "")
	}
	pos := slotPos(i)
	return SlotView{index: i, buf: v.buf[pos : pos+SlotSize : pos+SlotSize]}, nil
}

// SlotArrayViewMut is SlotArrayView plus Set and PushNew. It shares the
// header's buffer so PushNew can grow the slot count and shrink free-end as
// a single operation.
type SlotArrayViewMut struct {
	SlotArrayView
	header HeaderViewMut
}

func newSlotArrayViewMut(buf []byte, header HeaderViewMut) SlotArrayViewMut {
	return SlotArrayViewMut{
		SlotArrayView: newSlotArrayView(buf, header.SlotCount()),
		header:        header,
	}
}

// Set overwrites slot i in place. slot_count is never changed by Set.
func (v SlotArrayViewMut) Set(i uint16, offset, length uint16) error {
	if i >= v.count {
		return newOpError("slot.set", ErrSlotOutOfRange, "")
	}
	pos := slotPos(i)
	binary.LittleEndian.PutUint16(v.buf[pos:pos+2], offset)
	binary.LittleEndian.PutUint16(v.buf[pos+2:pos+4], length)
	return nil
}

// PushNew appends a new slot at index slot_count, growing the directory by
// one entry and shrinking free-end by SlotSize. It requires
// free_end - SlotSize >= free_start; callers are expected to have checked
// this as part of planning an insertion.
func (v *SlotArrayViewMut) PushNew(offset, length uint16) (uint16, error) {
	freeEnd := v.header.FreeEnd()
	freeStart := v.header.FreeStart()
	if int(freeEnd)-SlotSize < int(freeStart) {
		return 0, newOpError("slot.push_new", ErrInsertionInsufficientSpace, "no room for a new slot entry")
	}

	idx := v.header.SlotCount()
	pos := slotPos(idx)
	binary.LittleEndian.PutUint16(v.buf[pos:pos+2], offset)
	binary.LittleEndian.PutUint16(v.buf[pos+2:pos+4], length)

	v.header.SetSlotCount(idx + 1)
	v.header.SetFreeEnd(freeEnd - SlotSize)
	v.count = idx + 1

	return idx, nil
}
