// ABOUTME: Decoder interface definition and file-type dispatch
// ABOUTME: Common interface for all track decoders
package decode

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/elitebox/elitebox-go/pkg/audio"
)

// Decoder yields raw sample frames for one track. Exactly one goroutine
// drives a decoder at a time; ownership transfers with the track role
// during gapless transitions.
type Decoder interface {
	// NextFrames returns up to maxFrames interleaved frames in the native
	// packing of Format(). The second result is true exactly once, on the
	// call that yields the final frames (possibly alongside them); no
	// further calls are made after that.
	NextFrames(maxFrames int) ([]byte, bool, error)

	// Format returns the stream format. Immutable for the decoder's life.
	Format() audio.Format

	// TotalFrames returns the track length in frames, or 0 when unknown.
	TotalFrames() uint64

	// Close releases decoder resources.
	Close() error
}

// Metadata carries whatever tag information a container exposes.
type Metadata struct {
	Title  string
	Artist string
	Album  string
}

// Tagged is implemented by decoders whose container carries tags.
type Tagged interface {
	Metadata() Metadata
}

// Open creates a decoder for the file at path, dispatching on extension.
func Open(path string) (Decoder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return NewWAV(path)
	case ".flac":
		return NewFLAC(path)
	case ".mp3":
		return NewMP3(path)
	case ".ogg", ".oga":
		return NewVorbis(path)
	case ".dsf":
		return NewDSF(path)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}
}
