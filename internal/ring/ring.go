// ABOUTME: Lock-free single-producer single-consumer ring buffer
// ABOUTME: Zero-copy frame transport between the decode and hardware-writer threads
package ring

import (
	"fmt"
	"sync/atomic"
)

// Buffer is a lock-free single-producer, single-consumer ring buffer over
// interleaved audio frames.
//
// It uses two monotonically increasing atomic frame counters and a
// power-of-2 capacity with bitwise masking. No mutexes, no CAS loops; just
// atomic loads and stores. Go's sync/atomic gives sequential consistency:
// the producer stores writePos after writing frame data, the consumer loads
// writePos before reading it, so the consumer never observes a partially
// written frame.
//
// Thread assignment:
//   - WriteView + Commit + Write + AvailableWrite: producer goroutine only
//   - ReadView + AdvanceRead + AvailableRead: consumer goroutine only
type Buffer struct {
	// Separate cache lines to prevent false sharing between producer and
	// consumer. On most architectures a cache line is 64 bytes.
	writePos atomic.Uint64
	_        [56]byte
	readPos  atomic.Uint64
	_        [56]byte

	buf      []byte
	mask     uint64
	stride   int
	capacity uint64
}

// New creates a buffer holding capacityFrames frames of frameStride bytes
// each, with the capacity rounded up to the next power of two.
func New(capacityFrames, frameStride int) *Buffer {
	if capacityFrames <= 0 || frameStride <= 0 {
		panic(fmt.Sprintf("ring: invalid geometry %d frames x %d bytes", capacityFrames, frameStride))
	}

	size := 1
	for size < capacityFrames {
		size <<= 1
	}
	return &Buffer{
		buf:      make([]byte, size*frameStride),
		mask:     uint64(size - 1),
		stride:   frameStride,
		capacity: uint64(size),
	}
}

// Capacity returns the buffer capacity in frames.
func (b *Buffer) Capacity() int { return int(b.capacity) }

// FrameStride returns the bytes per frame.
func (b *Buffer) FrameStride() int { return b.stride }

// AvailableWrite returns the number of frames the producer may write without
// overtaking the consumer.
func (b *Buffer) AvailableWrite() int {
	return int(b.capacity - (b.writePos.Load() - b.readPos.Load()))
}

// AvailableRead returns the number of frames the consumer may read.
func (b *Buffer) AvailableRead() int {
	return int(b.writePos.Load() - b.readPos.Load())
}

// WriteView returns a writable byte region for up to maxFrames frames.
// The region is contiguous, so it may cover fewer frames than both
// maxFrames and AvailableWrite when the write cursor is near the wrap
// point; call again after Commit for the remainder. Returns nil when the
// buffer is full. Producer side only.
func (b *Buffer) WriteView(maxFrames int) []byte {
	w := b.writePos.Load()
	r := b.readPos.Load()

	free := b.capacity - (w - r)
	if free == 0 || maxFrames <= 0 {
		return nil
	}

	n := uint64(maxFrames)
	if n > free {
		n = free
	}

	pos := w & b.mask
	if contig := b.capacity - pos; n > contig {
		n = contig
	}

	start := pos * uint64(b.stride)
	return b.buf[start : start+n*uint64(b.stride)]
}

// Commit publishes frames previously filled through WriteView, making them
// visible to the consumer. Producer side only.
func (b *Buffer) Commit(frames int) {
	if frames < 0 || frames > b.AvailableWrite() {
		panic(fmt.Sprintf("ring: commit of %d frames with %d writable", frames, b.AvailableWrite()))
	}
	b.writePos.Store(b.writePos.Load() + uint64(frames))
}

// Write copies whole frames from p into the buffer and commits them.
// It never blocks; it returns the number of frames accepted, which is less
// than requested when the buffer fills. Producer side only.
func (b *Buffer) Write(p []byte) int {
	if len(p)%b.stride != 0 {
		panic(fmt.Sprintf("ring: write of %d bytes is not a whole number of %d-byte frames", len(p), b.stride))
	}

	total := 0
	for len(p) > 0 {
		view := b.WriteView(len(p) / b.stride)
		if view == nil {
			break
		}
		copy(view, p)
		frames := len(view) / b.stride
		b.Commit(frames)
		p = p[len(view):]
		total += frames
	}
	return total
}

// ReadView returns a readable byte region covering up to maxFrames
// committed frames. Like WriteView the region is contiguous and may be
// shorter than the total readable count at the wrap point. Returns nil when
// the buffer is empty. Consumer side only.
func (b *Buffer) ReadView(maxFrames int) []byte {
	r := b.readPos.Load()
	w := b.writePos.Load()

	avail := w - r
	if avail == 0 || maxFrames <= 0 {
		return nil
	}

	n := uint64(maxFrames)
	if n > avail {
		n = avail
	}

	pos := r & b.mask
	if contig := b.capacity - pos; n > contig {
		n = contig
	}

	start := pos * uint64(b.stride)
	return b.buf[start : start+n*uint64(b.stride)]
}

// AdvanceRead releases frames previously obtained through ReadView back to
// the producer. Consumer side only.
func (b *Buffer) AdvanceRead(frames int) {
	if frames < 0 || frames > b.AvailableRead() {
		panic(fmt.Sprintf("ring: advance of %d frames with %d readable", frames, b.AvailableRead()))
	}
	b.readPos.Store(b.readPos.Load() + uint64(frames))
}

// Reset discards all buffered frames. Both sides must be quiescent; it is
// only called between tracks or on stop, never while the writer is live.
func (b *Buffer) Reset() {
	b.readPos.Store(b.writePos.Load())
}
