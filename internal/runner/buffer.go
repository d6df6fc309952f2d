package runner

import (
	"bytes"
	"sync"
)

// limitBuffer collects writes up to a byte cap, then silently discards the
// rest. Keeps runaway print loops from exhausting memory. Safe for the
// concurrent stdout/stderr writes exec produces.
type limitBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	limit   int
	clipped bool
}

func newLimitBuffer(limit int) *limitBuffer {
	return &limitBuffer{limit: limit}
}

func (b *limitBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remain := b.limit - b.buf.Len()
	if remain > 0 {
		if len(p) > remain {
			b.buf.Write(p[:remain])
			b.clipped = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.clipped = true
	}
	return len(p), nil
}

func (b *limitBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	if b.clipped {
		s += "\n[output truncated]"
	}
	return s
}
