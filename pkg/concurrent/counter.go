package concurrent

import (
	"sync/atomic"
)

// Counter is a lock-free counter using atomic operations. It backs a
// BufferFrame's pin count, which only ever needs to go up by one, down by
// one, and be read.
type Counter struct {
	value uint64
}

// NewCounter creates a new lock-free counter
func NewCounter() *Counter {
	return &Counter{value: 0}
}

// Inc increments the counter by 1 and returns the new value
func (c *Counter) Inc() uint64 {
	return atomic.AddUint64(&c.value, 1)
}

// Dec decrements the counter by 1 and returns the new value
func (c *Counter) Dec() uint64 {
	return atomic.AddUint64(&c.value, ^uint64(0)) // Two's complement for -1
}

// Load returns the current value
func (c *Counter) Load() uint64 {
	return atomic.LoadUint64(&c.value)
}
