package storage

// PageSize is the fixed size of every page, in bytes.
const PageSize = 4096

// Page is a thin wrapper over a page-sized byte buffer. It owns none of
// those bytes: the buffer is always supplied by the caller (in practice, a
// BufferFrame's storage), and a Page's views are only valid for as long as
// that buffer is held under the appropriate latch.
type Page struct {
	buf []byte // exactly PageSize bytes
}

// NewPage wraps buf, which must be exactly PageSize bytes, as a Page.
func NewPage(buf []byte) *Page {
	if len(buf) != PageSize {
		panic("storage: page buffer must be exactly PageSize bytes")
	}
	return &Page{buf: buf}
}

// Bytes returns the underlying buffer. Callers must not retain it beyond
// the lifetime of whatever latch is guarding it.
func (p *Page) Bytes() []byte {
	return p.buf
}

// Header returns a read-only view of the page header.
func (p *Page) Header() HeaderView {
	return newHeaderView(p.buf[0:HeaderSize])
}

// HeaderMut returns a mutable view of the page header.
func (p *Page) HeaderMut() HeaderViewMut {
	return newHeaderViewMut(p.buf[0:HeaderSize])
}

// Slots returns a read-only view of the slot directory.
func (p *Page) Slots() SlotArrayView {
	h := p.Header()
	return newSlotArrayView(p.buf, h.SlotCount())
}

// SlotsMut returns a mutable view of the slot directory.
func (p *Page) SlotsMut() SlotArrayViewMut {
	return newSlotArrayViewMut(p.buf, p.HeaderMut())
}

// InitHeap zero-fills the page and writes a fresh empty-heap-page header:
// free_start = HeaderSize, free_end = PageSize, slot_count = 0, no
// fragmentation, can-compact clear. This is what a freshly allocated frame
// should be initialized to before any record is inserted.
func (p *Page) InitHeap(pageNumber uint32, kind PageKind) {
	for i := range p.buf {
		p.buf[i] = 0
	}
	h := p.HeaderMut()
	h.SetPageNumber(pageNumber)
	h.SetKind(kind)
	h.SetFlags(0)
	h.SetSlotCount(0)
	h.SetFreeStart(HeaderSize)
	h.SetFreeEnd(PageSize)
	h.SetFreeSpace(PageSize - HeaderSize)
	h.SetSiblingPrev(0)
	h.SetSiblingNext(0)
}
