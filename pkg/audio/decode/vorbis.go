// ABOUTME: Ogg Vorbis track decoder
// ABOUTME: Decodes Ogg files to 16-bit frames using jfreymuth/oggvorbis
package decode

import (
	"fmt"
	"io"
	"os"

	"github.com/jfreymuth/oggvorbis"

	"github.com/elitebox/elitebox-go/pkg/audio"
)

// VorbisDecoder decodes an Ogg Vorbis file. Vorbis is lossy and decodes to
// float; output is rendered as 16-bit PCM, the container's common delivery
// depth. There is no bit-perfect claim for lossy sources.
type VorbisDecoder struct {
	file   *os.File
	reader *oggvorbis.Reader
	format audio.Format
	done   bool

	floatBuf []float32
}

// NewVorbis opens an Ogg Vorbis file.
func NewVorbis(path string) (*VorbisDecoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Ogg file: %w", err)
	}

	reader, err := oggvorbis.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create vorbis decoder: %w", err)
	}

	format := audio.Format{
		SampleRate: reader.SampleRate(),
		BitDepth:   16,
		Channels:   reader.Channels(),
		Encoding:   audio.EncodingPCM,
	}
	if !format.Valid() {
		f.Close()
		return nil, fmt.Errorf("unsupported vorbis format: %v", format)
	}

	return &VorbisDecoder{
		file:   f,
		reader: reader,
		format: format,
	}, nil
}

// NextFrames reads up to maxFrames decoded frames.
func (d *VorbisDecoder) NextFrames(maxFrames int) ([]byte, bool, error) {
	if d.done {
		return nil, true, fmt.Errorf("read past end of stream")
	}

	wantValues := maxFrames * d.format.Channels
	if cap(d.floatBuf) < wantValues {
		d.floatBuf = make([]float32, wantValues)
	}
	d.floatBuf = d.floatBuf[:wantValues]

	read := 0
	for read < wantValues {
		n, err := d.reader.Read(d.floatBuf[read:])
		read += n
		if err == io.EOF {
			d.done = true
			break
		}
		if err != nil {
			return nil, false, fmt.Errorf("vorbis decode: %w", err)
		}
		if n == 0 {
			d.done = true
			break
		}
	}

	// Drop a trailing partial frame, then render to s16le.
	read = read / d.format.Channels * d.format.Channels
	out := make([]byte, 0, read*2)
	for _, v := range d.floatBuf[:read] {
		s := int32(v * 32767)
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		out = append(out, byte(s), byte(s>>8))
	}
	return out, d.done, nil
}

// Format returns the stream format.
func (d *VorbisDecoder) Format() audio.Format { return d.format }

// TotalFrames returns 0; Ogg length is not known without a full scan.
func (d *VorbisDecoder) TotalFrames() uint64 { return 0 }

// Close releases decoder resources.
func (d *VorbisDecoder) Close() error {
	return d.file.Close()
}
