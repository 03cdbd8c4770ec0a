// ABOUTME: MP3 track decoder
// ABOUTME: Decodes MP3 files to 16-bit frames using hajimehoshi/go-mp3
package decode

import (
	"fmt"
	"io"
	"os"

	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/elitebox/elitebox-go/pkg/audio"
)

// MP3Decoder decodes an MP3 file. go-mp3 always yields 16-bit little-endian
// stereo, which is already the transport's native packing for that format.
type MP3Decoder struct {
	file    *os.File
	decoder *mp3.Decoder
	format  audio.Format
	total   uint64
	done    bool
}

// NewMP3 opens an MP3 file.
func NewMP3(path string) (*MP3Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	format := audio.Format{
		SampleRate: dec.SampleRate(),
		BitDepth:   16,
		Channels:   2,
		Encoding:   audio.EncodingPCM,
	}

	var total uint64
	if n := dec.Length(); n > 0 {
		total = uint64(n) / uint64(format.FrameBytes())
	}

	return &MP3Decoder{
		file:    f,
		decoder: dec,
		format:  format,
		total:   total,
	}, nil
}

// NextFrames reads up to maxFrames decoded frames.
func (d *MP3Decoder) NextFrames(maxFrames int) ([]byte, bool, error) {
	if d.done {
		return nil, true, fmt.Errorf("read past end of stream")
	}

	stride := d.format.FrameBytes()
	buf := make([]byte, maxFrames*stride)
	n, err := io.ReadFull(d.decoder, buf)
	switch err {
	case nil:
		return buf, false, nil
	case io.ErrUnexpectedEOF, io.EOF:
		d.done = true
		return buf[:n/stride*stride], true, nil
	default:
		return nil, false, fmt.Errorf("mp3 decode: %w", err)
	}
}

// Format returns the stream format.
func (d *MP3Decoder) Format() audio.Format { return d.format }

// TotalFrames returns the track length reported by the decoder.
func (d *MP3Decoder) TotalFrames() uint64 { return d.total }

// Close releases decoder resources.
func (d *MP3Decoder) Close() error {
	return d.file.Close()
}
