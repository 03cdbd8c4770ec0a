// ABOUTME: Oto shared-mode fallback output backend
// ABOUTME: Routes PCM through the OS mixer when exclusive hardware access is unavailable
package output

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/elitebox/elitebox-go/pkg/audio"
)

// Oto is a fallback Output for systems where /dev/snd cannot be opened
// directly. It plays through the OS mixer, which may resample and mix,
// so this path is NOT bit-perfect. It exists so the player still makes
// sound on desktops where the hardware device is held by a sound server.
type Oto struct {
	bufferMS int

	otoCtx     *oto.Context
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter

	format       audio.Format
	bufferFrames int
}

// NewOto creates an Oto output. The context is created lazily on the
// first ConfigureExact because oto allows one context per process.
func NewOto(bufferMS int) *Oto {
	if bufferMS <= 0 {
		bufferMS = 100
	}
	return &Oto{bufferMS: bufferMS}
}

// Capability reports the narrow surface the mixer path supports.
// 16-bit stereo only; DoP through a mixer would corrupt the DSD
// markers, so it is never advertised.
func (o *Oto) Capability() (audio.Capability, error) {
	return audio.Capability{
		MinRate:     8000,
		MaxRate:     192000,
		MinChannels: 1,
		MaxChannels: 2,
		S16LE:       true,
	}, nil
}

// ConfigureExact sets up the oto context for f. Because oto supports a
// single context per process, a format change after the first
// configuration is rejected rather than silently resampled.
func (o *Oto) ConfigureExact(f audio.Format) error {
	if f.Encoding != audio.EncodingPCM || f.BitDepth != 16 {
		return fmt.Errorf("%w: oto backend only takes 16-bit PCM, got %v", ErrFormatRejected, f)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("%w: oto backend only takes 1-2 channels, got %v", ErrFormatRejected, f)
	}

	if o.otoCtx != nil {
		if f == o.format {
			return nil
		}
		return fmt.Errorf("%w: oto cannot reconfigure from %v to %v", ErrFormatRejected, o.format, f)
	}

	op := &oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(o.bufferMS) * time.Millisecond,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("create oto context: %w", err)
	}
	<-ready

	o.otoCtx = ctx
	o.format = f
	o.bufferFrames = f.SampleRate * o.bufferMS / 1000

	o.pipeReader, o.pipeWriter = io.Pipe()
	o.player = ctx.NewPlayer(o.pipeReader)
	o.player.Play()

	log.Printf("oto: shared-mode output configured %v (not bit-perfect)", f)

	return nil
}

// WriteDirect writes frames into the player pipe, blocking until the
// player consumes them.
func (o *Oto) WriteDirect(p []byte) (int, error) {
	if o.player == nil {
		return 0, ErrNotConfigured
	}
	n, err := o.pipeWriter.Write(p)
	frames := n / o.format.FrameBytes()
	if err != nil {
		return frames, fmt.Errorf("oto write: %w", err)
	}
	return frames, nil
}

// Pause pauses or resumes the player.
func (o *Oto) Pause(enable bool) error {
	if o.player == nil {
		return ErrNotConfigured
	}
	if enable {
		o.player.Pause()
	} else {
		o.player.Play()
	}
	return nil
}

// Drain waits for the player to consume everything it has buffered.
func (o *Oto) Drain() error {
	if o.player == nil {
		return ErrNotConfigured
	}
	for o.player.BufferedSize() > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// Prepare is a no-op; the mixer path restarts on its own.
func (o *Oto) Prepare() error {
	if o.player == nil {
		return ErrNotConfigured
	}
	return nil
}

// BufferFrames returns the approximate mixer buffer size in frames.
func (o *Oto) BufferFrames() int { return o.bufferFrames }

// Close releases the player. The oto context itself cannot be destroyed,
// only suspended.
func (o *Oto) Close() error {
	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
	if o.otoCtx != nil {
		_ = o.otoCtx.Suspend()
	}
	return nil
}
