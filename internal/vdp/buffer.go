package vdp

// GrowBuffer holds one frame's bytes. Its capacity only ever grows, so a
// save reuses the same backing array for every frame once it has seen the
// largest one.
type GrowBuffer struct {
	buf []byte
}

// NewGrowBuffer creates a buffer with the given initial capacity.
func NewGrowBuffer(capacity int) *GrowBuffer {
	return &GrowBuffer{buf: make([]byte, 0, max(capacity, 0))}
}

// Len returns the number of valid bytes.
func (b *GrowBuffer) Len() int { return len(b.buf) }

// Cap returns the current capacity.
func (b *GrowBuffer) Cap() int { return cap(b.buf) }

// Bytes returns the valid bytes. The slice is only good until the next
// write or Reset.
func (b *GrowBuffer) Bytes() []byte { return b.buf }

// Reset empties the buffer without releasing its storage.
func (b *GrowBuffer) Reset() { b.buf = b.buf[:0] }

// Write appends p.
func (b *GrowBuffer) Write(p []byte) (int, error) {
	b.WriteAt(p, len(b.buf))
	return len(p), nil
}

// WriteAt copies p to offset off, extending the valid length if needed.
// Bytes between the old length and off are zeroed.
func (b *GrowBuffer) WriteAt(p []byte, off int) {
	if off < 0 {
		panic("vdp: negative buffer offset")
	}
	end := off + len(p)
	if end > len(b.buf) {
		b.extend(end)
	}
	copy(b.buf[off:], p)
}

func (b *GrowBuffer) extend(n int) {
	old := len(b.buf)
	if n > cap(b.buf) {
		grown := make([]byte, n, max(n, 2*cap(b.buf)))
		copy(grown, b.buf)
		b.buf = grown
		return
	}
	b.buf = b.buf[:n]
	clear(b.buf[old:])
}
