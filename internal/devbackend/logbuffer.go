package devbackend

import (
	"fmt"
	"sync"
)

const defaultLogSize = 16 * 1024

// LogBuffer is a fixed-size ring of build output. When full, the oldest
// bytes are overwritten so a chatty build cannot grow a deployment record
// without bound.
type LogBuffer struct {
	buf  []byte
	size int
	head int // write position
	tail int // read position
	full bool
	mu   sync.RWMutex
}

// NewLogBuffer creates a buffer holding at most size bytes.
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = defaultLogSize
	}
	return &LogBuffer{
		buf:  make([]byte, size),
		size: size,
	}
}

// Write implements io.Writer.
func (lb *LogBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	for _, b := range p {
		if lb.full {
			lb.tail = (lb.tail + 1) % lb.size
		}
		lb.buf[lb.head] = b
		lb.head = (lb.head + 1) % lb.size
		if lb.head == lb.tail {
			lb.full = true
		}
	}
	return len(p), nil
}

// Logf appends one formatted line.
func (lb *LogBuffer) Logf(format string, args ...any) {
	_, _ = fmt.Fprintf(lb, format+"\n", args...)
}

// String returns the contents in write order.
func (lb *LogBuffer) String() string {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	switch {
	case !lb.full && lb.head == lb.tail:
		return ""
	case lb.full && lb.head == lb.tail:
		return string(lb.buf[lb.tail:]) + string(lb.buf[:lb.head])
	case lb.head > lb.tail:
		return string(lb.buf[lb.tail:lb.head])
	default:
		return string(lb.buf[lb.tail:]) + string(lb.buf[:lb.head])
	}
}

// Len returns the number of buffered bytes.
func (lb *LogBuffer) Len() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	switch {
	case lb.full:
		return lb.size
	case lb.head >= lb.tail:
		return lb.head - lb.tail
	default:
		return (lb.size - lb.tail) + lb.head
	}
}
