// Package optimize holds allocation pools for the per-frame encode path.
package optimize

import (
	"bytes"
	"image/png"
	"sync"
)

// BufferPool recycles bytes.Buffers. Buffers that grew past maxCap are
// dropped instead of pinned in the pool.
type BufferPool struct {
	pool   sync.Pool
	maxCap int
}

func NewBufferPool(initialCap, maxCap int) *BufferPool {
	if maxCap < initialCap {
		maxCap = initialCap
	}
	return &BufferPool{
		maxCap: maxCap,
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, initialCap))
			},
		},
	}
}

// Get returns an empty buffer
func (p *BufferPool) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns buf to the pool. buf must not be used afterwards.
func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > p.maxCap {
		return
	}
	p.pool.Put(buf)
}

// PNGEncoderPool lets png.Encoder reuse its compressor state across frames.
// The zero value is ready to use.
type PNGEncoderPool struct {
	pool sync.Pool
}

var _ png.EncoderBufferPool = (*PNGEncoderPool)(nil)

func (p *PNGEncoderPool) Get() *png.EncoderBuffer {
	b, _ := p.pool.Get().(*png.EncoderBuffer)
	return b
}

func (p *PNGEncoderPool) Put(b *png.EncoderBuffer) {
	p.pool.Put(b)
}
