// ABOUTME: WAV track decoder
// ABOUTME: Decodes RIFF/WAVE files to native-packed frames using go-audio/wav
package decode

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/elitebox/elitebox-go/pkg/audio"
)

// WAVDecoder decodes a RIFF/WAVE file. WAV carries plain integer PCM, so
// re-packing the decoded ints at the source bit depth is value-exact.
type WAVDecoder struct {
	file    *os.File
	decoder *wav.Decoder
	format  audio.Format
	total   uint64
	done    bool

	// Reused go-audio buffer to avoid per-call allocation.
	intBuf *goaudio.IntBuffer
}

// NewWAV opens a WAV file.
func NewWAV(path string) (*WAVDecoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("not a valid WAV file: %s", path)
	}

	format := audio.Format{
		SampleRate: int(dec.SampleRate),
		BitDepth:   int(dec.BitDepth),
		Channels:   int(dec.NumChans),
		Encoding:   audio.EncodingPCM,
	}
	if !format.Valid() {
		f.Close()
		return nil, fmt.Errorf("unsupported WAV format: %v", format)
	}

	var total uint64
	if dur, err := dec.Duration(); err == nil {
		total = uint64(float64(dur.Seconds()) * float64(format.SampleRate))
	}

	return &WAVDecoder{
		file:    f,
		decoder: dec,
		format:  format,
		total:   total,
	}, nil
}

// NextFrames reads and re-packs up to maxFrames frames.
func (d *WAVDecoder) NextFrames(maxFrames int) ([]byte, bool, error) {
	if d.done {
		return nil, true, fmt.Errorf("read past end of stream")
	}

	wantInts := maxFrames * d.format.Channels
	if d.intBuf == nil || len(d.intBuf.Data) != wantInts {
		d.intBuf = &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: d.format.Channels,
				SampleRate:  d.format.SampleRate,
			},
			Data:           make([]int, wantInts),
			SourceBitDepth: d.format.BitDepth,
		}
	}

	n, err := d.decoder.PCMBuffer(d.intBuf)
	if err != nil {
		return nil, false, fmt.Errorf("wav read: %w", err)
	}
	if n < wantInts {
		d.done = true
	}

	// Drop a trailing partial frame if the file is truncated mid-frame.
	n = n / d.format.Channels * d.format.Channels

	out := make([]byte, 0, n*d.format.BitDepth/8)
	for _, v := range d.intBuf.Data[:n] {
		s := int32(v)
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
	return out, d.done, nil
}

// Format returns the stream format.
func (d *WAVDecoder) Format() audio.Format { return d.format }

// TotalFrames returns the track length derived from the data chunk.
func (d *WAVDecoder) TotalFrames() uint64 { return d.total }

// Close releases decoder resources.
func (d *WAVDecoder) Close() error {
	return d.file.Close()
}
