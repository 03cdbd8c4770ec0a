// ABOUTME: Track source lifecycle
// ABOUTME: Owns one decoder instance plus its negotiated conversion and decode cursor
package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/elitebox/elitebox-go/pkg/audio"
	"github.com/elitebox/elitebox-go/pkg/audio/convert"
	"github.com/elitebox/elitebox-go/pkg/audio/decode"
)

// Source names a queued track and knows how to open a fresh decoder for
// it. Decoders are not restartable, so seeking re-opens the source.
type Source struct {
	Path string
	Open func() (decode.Decoder, error)
}

// track is one live decoding instance of a Source. Exactly one role
// (current or next) owns a track at a time; ownership moves between
// roles only inside the engine run loop.
type track struct {
	id     uuid.UUID
	source Source
	dec    decode.Decoder

	negotiated convert.Negotiated
	meta       decode.Metadata
	total      uint64
	decoded    uint64
	eos        bool
}

// openTrack opens a source and negotiates its hardware format against
// the device capability.
func openTrack(src Source, cap audio.Capability) (*track, error) {
	dec, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src.Path, err)
	}

	neg, err := convert.Negotiate(dec.Format(), cap)
	if err != nil {
		_ = dec.Close()
		return nil, fmt.Errorf("%s: %w", src.Path, err)
	}

	t := &track{
		id:         uuid.New(),
		source:     src,
		dec:        dec,
		negotiated: neg,
		total:      dec.TotalFrames(),
	}
	if tagged, ok := dec.(decode.Tagged); ok {
		t.meta = tagged.Metadata()
	}
	return t, nil
}

// remaining returns the undecoded frame count, or ^uint64(0) when the
// track length is unknown.
func (t *track) remaining() uint64 {
	if t.total == 0 {
		return ^uint64(0)
	}
	if t.decoded >= t.total {
		return 0
	}
	return t.total - t.decoded
}

// next decodes up to maxFrames source frames and returns the raw bytes.
// EOS is latched so callers can keep polling without re-reading.
func (t *track) next(maxFrames int) ([]byte, error) {
	if t.eos {
		return nil, nil
	}
	data, eos, err := t.dec.NextFrames(maxFrames)
	if err != nil {
		return nil, err
	}
	t.decoded += uint64(len(data) / t.dec.Format().FrameBytes())
	if eos {
		t.eos = true
	}
	return data, nil
}

// skip decodes and discards frames until the decode cursor reaches
// target. Used after re-opening a source to implement seek.
func (t *track) skip(target uint64) error {
	const step = 8192
	for t.decoded < target && !t.eos {
		want := target - t.decoded
		if want > step {
			want = step
		}
		if _, err := t.next(int(want)); err != nil {
			return err
		}
	}
	return nil
}

func (t *track) close() {
	if t.dec != nil {
		_ = t.dec.Close()
		t.dec = nil
	}
}
