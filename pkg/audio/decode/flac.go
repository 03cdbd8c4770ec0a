// ABOUTME: FLAC track decoder
// ABOUTME: Decodes FLAC files to native-packed frames using mewkiz/flac
package decode

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"

	"github.com/elitebox/elitebox-go/pkg/audio"
)

// FLACDecoder decodes a FLAC file frame by frame. FLAC is lossless integer
// PCM, so re-packing decoded samples at the source bit depth reproduces the
// encoded values exactly.
type FLACDecoder struct {
	file   *os.File
	stream *flac.Stream
	format audio.Format
	total  uint64
	title  string

	// Leftover bytes from a parsed FLAC frame larger than the caller asked
	// for; drained before the next ParseNext.
	pending []byte
	done    bool
}

// NewFLAC opens a FLAC file.
func NewFLAC(path string) (*FLACDecoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	format := audio.Format{
		SampleRate: int(info.SampleRate),
		BitDepth:   int(info.BitsPerSample),
		Channels:   int(info.NChannels),
		Encoding:   audio.EncodingPCM,
	}
	if !format.Valid() {
		f.Close()
		return nil, fmt.Errorf("unsupported FLAC format: %v", format)
	}

	filename := filepath.Base(path)
	title := strings.TrimSuffix(filename, filepath.Ext(filename))

	return &FLACDecoder{
		file:   f,
		stream: stream,
		format: format,
		total:  info.NSamples,
		title:  title,
	}, nil
}

// NextFrames parses FLAC frames and re-packs them at the native bit depth.
func (d *FLACDecoder) NextFrames(maxFrames int) ([]byte, bool, error) {
	if d.done {
		return nil, true, fmt.Errorf("read past end of stream")
	}

	stride := d.format.FrameBytes()
	want := maxFrames * stride
	out := make([]byte, 0, want)

	if len(d.pending) > 0 {
		n := len(d.pending)
		if n > want {
			n = want
		}
		out = append(out, d.pending[:n]...)
		d.pending = d.pending[n:]
	}

	for len(out) < want {
		fr, err := d.stream.ParseNext()
		if err == io.EOF {
			d.done = true
			return out, true, nil
		}
		if err != nil {
			return out, false, fmt.Errorf("flac parse: %w", err)
		}

		packed := d.pack(fr.Subframes, int(fr.BlockSize))
		room := want - len(out)
		if len(packed) <= room {
			out = append(out, packed...)
		} else {
			out = append(out, packed[:room]...)
			d.pending = packed[room:]
		}
	}

	return out, false, nil
}

// pack interleaves per-channel samples into little-endian frames at the
// stream's bit depth.
func (d *FLACDecoder) pack(subframes []*frame.Subframe, blockSize int) []byte {
	out := make([]byte, 0, blockSize*d.format.FrameBytes())
	for i := 0; i < blockSize; i++ {
		for ch := 0; ch < d.format.Channels; ch++ {
			s := subframes[ch].Samples[i]
			switch d.format.BitDepth {
			case 16:
				out = append(out, byte(s), byte(s>>8))
			case 24:
				b := audio.SampleTo24Bit(s)
				out = append(out, b[0], b[1], b[2])
			case 32:
				out = append(out, byte(s), byte(s>>8), byte(s>>16), byte(s>>24))
			}
		}
	}
	return out
}

// Format returns the stream format.
func (d *FLACDecoder) Format() audio.Format { return d.format }

// TotalFrames returns the track length from the stream info block.
func (d *FLACDecoder) TotalFrames() uint64 { return d.total }

// Metadata returns the filename-derived title.
func (d *FLACDecoder) Metadata() Metadata { return Metadata{Title: d.title} }

// Close releases decoder resources.
func (d *FLACDecoder) Close() error {
	return d.file.Close()
}
