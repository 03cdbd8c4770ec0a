// ABOUTME: Raw PCM decoder
// ABOUTME: Wraps an io.Reader of headerless interleaved frames
package decode

import (
	"fmt"
	"io"

	"github.com/elitebox/elitebox-go/pkg/audio"
)

// PCMDecoder reads headerless interleaved PCM frames from a reader. It is
// the passthrough member of the decoder set: bytes in are bytes out.
type PCMDecoder struct {
	r      io.Reader
	format audio.Format
	total  uint64
	done   bool
}

// NewPCM creates a decoder over raw frames in the given format. totalFrames
// is advisory; pass 0 when unknown.
func NewPCM(r io.Reader, format audio.Format, totalFrames uint64) (*PCMDecoder, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("invalid PCM format: %v", format)
	}
	return &PCMDecoder{r: r, format: format, total: totalFrames}, nil
}

// NextFrames reads up to maxFrames whole frames.
func (d *PCMDecoder) NextFrames(maxFrames int) ([]byte, bool, error) {
	if d.done {
		return nil, true, fmt.Errorf("read past end of stream")
	}

	stride := d.format.FrameBytes()
	buf := make([]byte, maxFrames*stride)
	n, err := io.ReadFull(d.r, buf)
	switch err {
	case nil:
		return buf, false, nil
	case io.ErrUnexpectedEOF, io.EOF:
		d.done = true
		// Drop any trailing partial frame.
		return buf[:n/stride*stride], true, nil
	default:
		return nil, false, fmt.Errorf("pcm read: %w", err)
	}
}

// Format returns the stream format.
func (d *PCMDecoder) Format() audio.Format { return d.format }

// TotalFrames returns the advisory track length.
func (d *PCMDecoder) TotalFrames() uint64 { return d.total }

// Close releases resources.
func (d *PCMDecoder) Close() error {
	if c, ok := d.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
