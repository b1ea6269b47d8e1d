package storage

import (
	"errors"
	"testing"
)

func TestPageError_WrapsOpError(t *testing.T) {
	id := NewPageID(3, 9)
	err := wrapPageErr(id, "read", ErrSlotOutOfRange, "slot 4")

	var pe *PageError
	if !errors.As(err, &pe) {
		t.Fatal("wrapPageErr did not produce a *PageError")
	}
	if pe.PageID != id {
		t.Errorf("PageID = %v, want %v", pe.PageID, id)
	}
	if pe.Kind() != ErrSlotOutOfRange {
		t.Errorf("Kind() = %v, want ErrSlotOutOfRange", pe.Kind())
	}

	var oe *OpError
	if !errors.As(err, &oe) {
		t.Fatal("PageError.Unwrap did not surface the underlying *OpError")
	}
}

func TestBufferError_Unwrap(t *testing.T) {
	inner := errors.New("disk exploded")
	err := newBufferError(ErrDiskIO, NewPageID(1, 1), inner)
	if !errors.Is(err, inner) {
		t.Error("BufferError does not unwrap to its underlying error")
	}
}

func TestPageID_RoundTrip(t *testing.T) {
	id := NewPageID(0xDEADBEEF, 123)
	if id.FileHash() != 0xDEADBEEF {
		t.Errorf("FileHash() = %x, want deadbeef", id.FileHash())
	}
	if id.PageNumber() != 123 {
		t.Errorf("PageNumber() = %d, want 123", id.PageNumber())
	}
}
