// ABOUTME: DSF (DSD Stream File) track decoder
// ABOUTME: Parses the DSF container and yields byte-interleaved DSD frames
package decode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/elitebox/elitebox-go/pkg/audio"
)

// DSF stores DSD data in per-channel blocks; the transport wants
// byte-interleaved frames (one byte per channel). The decoder de-blocks on
// the fly and normalizes bit order to MSB-first, which is what DoP carries.
type DSFDecoder struct {
	file   *os.File
	format audio.Format
	total  uint64 // frames (bytes per channel)
	done   bool

	blockSize int // bytes per channel per block
	lsbFirst  bool

	// Current block set, interleaved lazily.
	block     []byte // blockSize * channels
	blockPos  int    // consumed frames within the block
	remaining uint64 // frames left in the data chunk
}

// NewDSF opens a DSF file.
func NewDSF(path string) (*DSFDecoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DSF file: %w", err)
	}

	d, err := parseDSF(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	d.file = f
	return d, nil
}

func parseDSF(f *os.File) (*DSFDecoder, error) {
	// "DSD " chunk: magic, chunk size, file size, metadata offset.
	var dsdHeader [28]byte
	if _, err := io.ReadFull(f, dsdHeader[:]); err != nil {
		return nil, fmt.Errorf("dsf header: %w", err)
	}
	if !bytes.Equal(dsdHeader[:4], []byte("DSD ")) {
		return nil, fmt.Errorf("not a DSF file")
	}

	// "fmt " chunk.
	var fmtHeader [52]byte
	if _, err := io.ReadFull(f, fmtHeader[:]); err != nil {
		return nil, fmt.Errorf("dsf fmt chunk: %w", err)
	}
	if !bytes.Equal(fmtHeader[:4], []byte("fmt ")) {
		return nil, fmt.Errorf("dsf: missing fmt chunk")
	}

	formatID := binary.LittleEndian.Uint32(fmtHeader[16:20])
	channels := binary.LittleEndian.Uint32(fmtHeader[24:28])
	rate := binary.LittleEndian.Uint32(fmtHeader[28:32])
	bitsPerSample := binary.LittleEndian.Uint32(fmtHeader[32:36])
	sampleCount := binary.LittleEndian.Uint64(fmtHeader[36:44])
	blockSize := binary.LittleEndian.Uint32(fmtHeader[44:48])

	if formatID != 0 {
		return nil, fmt.Errorf("dsf: unsupported format id %d", formatID)
	}
	if bitsPerSample != 1 && bitsPerSample != 8 {
		return nil, fmt.Errorf("dsf: unsupported bits per sample %d", bitsPerSample)
	}
	if channels == 0 || blockSize == 0 {
		return nil, fmt.Errorf("dsf: invalid geometry %d channels, block %d", channels, blockSize)
	}

	// "data" chunk header.
	var dataHeader [12]byte
	if _, err := io.ReadFull(f, dataHeader[:]); err != nil {
		return nil, fmt.Errorf("dsf data chunk: %w", err)
	}
	if !bytes.Equal(dataHeader[:4], []byte("data")) {
		return nil, fmt.Errorf("dsf: missing data chunk")
	}

	totalFrames := sampleCount / 8 // one frame carries 8 one-bit samples per channel

	return &DSFDecoder{
		format: audio.Format{
			SampleRate: int(rate),
			Channels:   int(channels),
			Encoding:   audio.EncodingDSD,
		},
		total:     totalFrames,
		blockSize: int(blockSize),
		lsbFirst:  bitsPerSample == 1,
		remaining: totalFrames,
	}, nil
}

// NextFrames returns up to maxFrames byte-interleaved DSD frames.
func (d *DSFDecoder) NextFrames(maxFrames int) ([]byte, bool, error) {
	if d.done {
		return nil, true, fmt.Errorf("read past end of stream")
	}

	out := make([]byte, 0, maxFrames*d.format.Channels)
	for len(out) < maxFrames*d.format.Channels {
		if d.block == nil || d.blockPos >= d.blockSize {
			if err := d.readBlock(); err == io.EOF {
				d.done = true
				return out, true, nil
			} else if err != nil {
				return out, false, err
			}
		}

		frames := maxFrames - len(out)/d.format.Channels
		if left := d.blockSize - d.blockPos; frames > left {
			frames = left
		}
		if rem := int(d.remaining); frames > rem {
			frames = rem
		}
		if frames <= 0 {
			d.done = true
			return out, true, nil
		}

		for i := 0; i < frames; i++ {
			for ch := 0; ch < d.format.Channels; ch++ {
				b := d.block[ch*d.blockSize+d.blockPos+i]
				if d.lsbFirst {
					b = bitReverse[b]
				}
				out = append(out, b)
			}
		}
		d.blockPos += frames
		d.remaining -= uint64(frames)
	}

	return out, false, nil
}

// readBlock loads the next per-channel block set.
func (d *DSFDecoder) readBlock() error {
	if d.remaining == 0 {
		return io.EOF
	}
	if d.block == nil {
		d.block = make([]byte, d.blockSize*d.format.Channels)
	}
	if _, err := io.ReadFull(d.file, d.block); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return io.EOF
		}
		return fmt.Errorf("dsf read: %w", err)
	}
	d.blockPos = 0
	return nil
}

// Format returns the stream format.
func (d *DSFDecoder) Format() audio.Format { return d.format }

// TotalFrames returns the track length from the fmt chunk.
func (d *DSFDecoder) TotalFrames() uint64 { return d.total }

// Close releases decoder resources.
func (d *DSFDecoder) Close() error {
	return d.file.Close()
}

// bitReverse maps each byte to its bit-reversed value, converting LSB-first
// DSD bytes to the MSB-first order DoP expects.
var bitReverse = func() [256]byte {
	var t [256]byte
	for i := 0; i < 256; i++ {
		b := byte(i)
		var r byte
		for j := 0; j < 8; j++ {
			r = r<<1 | b&1
			b >>= 1
		}
		t[i] = r
	}
	return t
}()
