// ABOUTME: Tests for the gapless playback engine
// ABOUTME: Uses fake outputs and decoders to verify transitions, underruns, and byte exactness
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/elitebox/elitebox-go/pkg/audio"
	"github.com/elitebox/elitebox-go/pkg/audio/convert"
	"github.com/elitebox/elitebox-go/pkg/audio/decode"
	"github.com/elitebox/elitebox-go/pkg/audio/output"
)

// fakeOutput records every device interaction in order.
type fakeOutput struct {
	mu         sync.Mutex
	capability audio.Capability
	writeDelay time.Duration

	format     audio.Format
	configured bool

	events     []string // "configure", "drain", "prepare", "pause", "resume"
	configures []audio.Format
	written    []byte
	drains     int
	prepares   int
}

func newFakeOutput(cap audio.Capability) *fakeOutput {
	return &fakeOutput{capability: cap}
}

func (f *fakeOutput) Capability() (audio.Capability, error) {
	return f.capability, nil
}

func (f *fakeOutput) ConfigureExact(format audio.Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.format = format
	f.configured = true
	f.events = append(f.events, "configure")
	f.configures = append(f.configures, format)
	return nil
}

func (f *fakeOutput) WriteDirect(p []byte) (int, error) {
	if f.writeDelay > 0 {
		time.Sleep(f.writeDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.configured {
		return 0, output.ErrNotConfigured
	}
	f.written = append(f.written, p...)
	return len(p) / f.format.FrameBytes(), nil
}

func (f *fakeOutput) Pause(enable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if enable {
		f.events = append(f.events, "pause")
	} else {
		f.events = append(f.events, "resume")
	}
	return nil
}

func (f *fakeOutput) Drain() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "drain")
	f.drains++
	return nil
}

func (f *fakeOutput) Prepare() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "prepare")
	f.prepares++
	return nil
}

func (f *fakeOutput) BufferFrames() int { return 1024 }
func (f *fakeOutput) Close() error      { return nil }

func (f *fakeOutput) snapshotWritten() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.written...)
}

func (f *fakeOutput) snapshotEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// fakeDecoder yields a fixed byte slice in chunks. An optional gate, once
// the first chunk is out, makes it yield nothing until the gate closes,
// simulating a stalled decoder.
type fakeDecoder struct {
	format audio.Format
	data   []byte
	pos    int
	gate   chan struct{}
}

func (d *fakeDecoder) NextFrames(maxFrames int) ([]byte, bool, error) {
	if d.gate != nil && d.pos > 0 {
		select {
		case <-d.gate:
		default:
			return nil, false, nil
		}
	}
	if d.pos >= len(d.data) {
		return nil, true, errors.New("read past end of stream")
	}
	stride := d.format.FrameBytes()
	n := maxFrames * stride
	if n > len(d.data)-d.pos {
		n = len(d.data) - d.pos
	}
	chunk := d.data[d.pos : d.pos+n]
	d.pos += n
	return chunk, d.pos >= len(d.data), nil
}

func (d *fakeDecoder) Format() audio.Format { return d.format }
func (d *fakeDecoder) TotalFrames() uint64 {
	return uint64(len(d.data) / d.format.FrameBytes())
}
func (d *fakeDecoder) Close() error { return nil }

func sourceFor(path string, dec *fakeDecoder) Source {
	return Source{
		Path: path,
		Open: func() (decode.Decoder, error) {
			// Decoders are single-use; hand out a fresh cursor per open.
			cp := *dec
			cp.pos = 0
			return &cp, nil
		},
	}
}

// patternFrames builds frames of stride bytes with a per-track marker so
// streams from different tracks are distinguishable.
func patternFrames(frames, stride int, marker byte) []byte {
	buf := make([]byte, frames*stride)
	for i := range buf {
		buf[i] = marker ^ byte(i)
	}
	return buf
}

func pcmCap() audio.Capability {
	return audio.Capability{
		MinRate: 8000, MaxRate: 384000,
		MinChannels: 1, MaxChannels: 8,
		S16LE: true, S24LE3: true, S32LE: true,
	}
}

func startEngine(t *testing.T, out output.Output, cfg Config) (*Engine, context.CancelFunc) {
	t.Helper()
	e := New(out, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("engine did not shut down")
		}
	})
	return e, cancel
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	waitFor(t, "idle state", func() bool {
		s := e.Snapshot().State
		return s == StateIdle || s == StateError
	})
}

func TestGaplessSameFormat(t *testing.T) {
	format := audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2, Encoding: audio.EncodingPCM}
	a := patternFrames(1000, format.FrameBytes(), 0x00)
	b := patternFrames(800, format.FrameBytes(), 0xA5)

	out := newFakeOutput(pcmCap())
	e, _ := startEngine(t, out, Config{RingFrames: 256, PrimeFrames: 64, ChunkFrames: 32})

	e.Play([]Source{
		sourceFor("a.wav", &fakeDecoder{format: format, data: a}),
		sourceFor("b.wav", &fakeDecoder{format: format, data: b}),
	})
	waitIdle(t, e)

	if got := out.snapshotWritten(); !bytes.Equal(got, append(append([]byte{}, a...), b...)) {
		t.Fatalf("device stream is not track A followed by track B (got %d bytes, want %d)",
			len(got), len(a)+len(b))
	}

	// Identical formats: one configure at start, one drain at the very
	// end, nothing in between.
	out.mu.Lock()
	configures, drains := len(out.configures), out.drains
	out.mu.Unlock()
	if configures != 1 {
		t.Errorf("got %d configure calls, want 1", configures)
	}
	if drains != 1 {
		t.Errorf("got %d drain calls, want 1", drains)
	}
}

func TestFormatChangeDrainsOnceThenReconfigures(t *testing.T) {
	f16 := audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2, Encoding: audio.EncodingPCM}
	f24 := audio.Format{SampleRate: 96000, BitDepth: 24, Channels: 2, Encoding: audio.EncodingPCM}
	a := patternFrames(600, f16.FrameBytes(), 0x11)
	b := patternFrames(400, f24.FrameBytes(), 0x22)

	out := newFakeOutput(pcmCap())
	e, _ := startEngine(t, out, Config{RingFrames: 256, PrimeFrames: 64, ChunkFrames: 32})

	e.Play([]Source{
		sourceFor("a.wav", &fakeDecoder{format: f16, data: a}),
		sourceFor("b.flac", &fakeDecoder{format: f24, data: b}),
	})
	waitIdle(t, e)

	events := out.snapshotEvents()
	var seq []string
	for _, ev := range events {
		if ev == "configure" || ev == "drain" {
			seq = append(seq, ev)
		}
	}
	want := []string{"configure", "drain", "configure", "drain"}
	if fmt.Sprint(seq) != fmt.Sprint(want) {
		t.Fatalf("device call order = %v, want %v", seq, want)
	}

	out.mu.Lock()
	first, second := out.configures[0], out.configures[1]
	out.mu.Unlock()
	if first != f16 {
		t.Errorf("first configure = %v, want %v", first, f16)
	}
	if second != f24 {
		t.Errorf("second configure = %v, want %v", second, f24)
	}
}

func TestWidenedTrackReachesDeviceSignExtended(t *testing.T) {
	f24 := audio.Format{SampleRate: 192000, BitDepth: 24, Channels: 2, Encoding: audio.EncodingPCM}
	src := patternFrames(500, f24.FrameBytes(), 0x3C)

	cap := pcmCap()
	cap.S24LE3 = false // force the 32-bit container path

	out := newFakeOutput(cap)
	e, _ := startEngine(t, out, Config{RingFrames: 256, PrimeFrames: 64, ChunkFrames: 32})

	e.Play([]Source{sourceFor("hires.flac", &fakeDecoder{format: f24, data: src})})
	waitIdle(t, e)

	want, err := convert.AppendWidened24To32(nil, src)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.snapshotWritten(); !bytes.Equal(got, want) {
		t.Fatalf("device bytes are not the sign-extended source (got %d bytes, want %d)",
			len(got), len(want))
	}

	out.mu.Lock()
	hw := out.configures[0]
	out.mu.Unlock()
	if hw.BitDepth != 32 {
		t.Errorf("hardware bit depth = %d, want 32", hw.BitDepth)
	}
}

func TestUnderrunReprimesInsteadOfAborting(t *testing.T) {
	format := audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2, Encoding: audio.EncodingPCM}
	data := patternFrames(2000, format.FrameBytes(), 0x55)

	gate := make(chan struct{})
	dec := &fakeDecoder{format: format, data: data, gate: gate}

	out := newFakeOutput(pcmCap())
	e, _ := startEngine(t, out, Config{RingFrames: 128, PrimeFrames: 32, ChunkFrames: 16})

	e.Play([]Source{{
		Path: "stall.wav",
		Open: func() (decode.Decoder, error) { return dec, nil },
	}})

	// The decoder stalls after its first chunk; the ring runs dry while
	// the writer keeps polling.
	waitFor(t, "underrun count", func() bool {
		return e.Snapshot().Underruns >= 1
	})
	if s := e.Snapshot().State; s == StateError {
		t.Fatal("underrun drove the engine into the error state")
	}

	close(gate)
	waitIdle(t, e)

	if s := e.Snapshot(); s.State != StateIdle {
		t.Fatalf("final state = %v, want idle", s.State)
	}
	if got := out.snapshotWritten(); !bytes.Equal(got, data) {
		t.Fatalf("stream incomplete after re-prime: got %d bytes, want %d", len(got), len(data))
	}
	out.mu.Lock()
	prepares := out.prepares
	out.mu.Unlock()
	if prepares < 1 {
		t.Error("device was never re-prepared after the underrun")
	}
}

func TestAdvanceOnTrackError(t *testing.T) {
	format := audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2, Encoding: audio.EncodingPCM}
	good := patternFrames(300, format.FrameBytes(), 0x77)

	out := newFakeOutput(pcmCap())
	e, _ := startEngine(t, out, Config{RingFrames: 256, PrimeFrames: 64, ChunkFrames: 32})

	e.Play([]Source{
		{Path: "broken.flac", Open: func() (decode.Decoder, error) {
			return nil, errors.New("corrupt stream header")
		}},
		sourceFor("good.wav", &fakeDecoder{format: format, data: good}),
	})
	waitIdle(t, e)

	if got := out.snapshotWritten(); !bytes.Equal(got, good) {
		t.Fatalf("playable track did not play after the broken one was skipped")
	}
}

func TestUnsupportedFormatSkipsTrack(t *testing.T) {
	f16 := audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2, Encoding: audio.EncodingPCM}
	f24 := audio.Format{SampleRate: 96000, BitDepth: 24, Channels: 2, Encoding: audio.EncodingPCM}
	good := patternFrames(300, f16.FrameBytes(), 0x42)

	cap := pcmCap()
	cap.S24LE3 = false
	cap.S32LE = false // 24-bit source has nowhere to go

	out := newFakeOutput(cap)
	e, _ := startEngine(t, out, Config{RingFrames: 256, PrimeFrames: 64, ChunkFrames: 32})

	e.Play([]Source{
		sourceFor("hires.flac", &fakeDecoder{format: f24, data: patternFrames(100, f24.FrameBytes(), 0)}),
		sourceFor("cd.wav", &fakeDecoder{format: f16, data: good}),
	})
	waitIdle(t, e)

	if got := out.snapshotWritten(); !bytes.Equal(got, good) {
		t.Fatal("supported track did not play after the unsupported one")
	}
}

func TestPauseResume(t *testing.T) {
	format := audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2, Encoding: audio.EncodingPCM}
	data := patternFrames(50000, format.FrameBytes(), 0x0F)

	out := newFakeOutput(pcmCap())
	out.writeDelay = 200 * time.Microsecond

	e, _ := startEngine(t, out, Config{RingFrames: 1024, PrimeFrames: 256, ChunkFrames: 64})
	e.Play([]Source{sourceFor("long.wav", &fakeDecoder{format: format, data: data})})

	waitFor(t, "playing state", func() bool { return e.Snapshot().State == StatePlaying })

	e.Pause()
	waitFor(t, "paused state", func() bool { return e.Snapshot().State == StatePaused })
	waitFor(t, "device pause", func() bool {
		for _, ev := range out.snapshotEvents() {
			if ev == "pause" {
				return true
			}
		}
		return false
	})

	e.Resume()
	waitFor(t, "playing again", func() bool { return e.Snapshot().State == StatePlaying })

	e.Stop()
	waitIdle(t, e)
}

func TestPauseNearEndOfTrackFinishes(t *testing.T) {
	format := audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2, Encoding: audio.EncodingPCM}
	data := patternFrames(100, format.FrameBytes(), 0x1B)

	out := newFakeOutput(pcmCap())
	out.writeDelay = time.Millisecond

	// The whole track fits in the ring, so the producer commits the final
	// frame almost immediately and the pause lands with the writer holding
	// the tail of the stream.
	e, _ := startEngine(t, out, Config{RingFrames: 256, PrimeFrames: 32, ChunkFrames: 16})
	e.Play([]Source{sourceFor("short.wav", &fakeDecoder{format: format, data: data})})

	waitFor(t, "playing state", func() bool { return e.Snapshot().State == StatePlaying })
	e.Pause()

	time.Sleep(20 * time.Millisecond)
	e.Resume()
	waitIdle(t, e)

	if s := e.Snapshot().State; s != StateIdle {
		t.Fatalf("final state = %v, want idle", s)
	}
	if got := out.snapshotWritten(); !bytes.Equal(got, data) {
		t.Fatalf("stream incomplete after pause at the track tail: got %d bytes, want %d",
			len(got), len(data))
	}
}

func TestStopWhilePausedUnpausesBeforeDrain(t *testing.T) {
	format := audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2, Encoding: audio.EncodingPCM}
	data := patternFrames(50000, format.FrameBytes(), 0x6D)

	out := newFakeOutput(pcmCap())
	out.writeDelay = 200 * time.Microsecond

	e, _ := startEngine(t, out, Config{RingFrames: 1024, PrimeFrames: 256, ChunkFrames: 64})
	e.Play([]Source{sourceFor("long.wav", &fakeDecoder{format: format, data: data})})

	waitFor(t, "playing state", func() bool { return e.Snapshot().State == StatePlaying })
	e.Pause()
	waitFor(t, "device pause", func() bool {
		for _, ev := range out.snapshotEvents() {
			if ev == "pause" {
				return true
			}
		}
		return false
	})

	e.Stop()
	waitIdle(t, e)

	// A drain against a paused device never completes on real hardware;
	// every drain must be preceded by a resume.
	pausedDev := false
	for _, ev := range out.snapshotEvents() {
		switch ev {
		case "pause":
			pausedDev = true
		case "resume":
			pausedDev = false
		case "drain":
			if pausedDev {
				t.Fatal("device drained while still paused")
			}
		}
	}
}

func TestPlayReportsPreparingBeforeTrackOpen(t *testing.T) {
	format := audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2, Encoding: audio.EncodingPCM}
	data := patternFrames(50, format.FrameBytes(), 0x2A)
	release := make(chan struct{})

	out := newFakeOutput(pcmCap())
	e, _ := startEngine(t, out, Config{RingFrames: 256, PrimeFrames: 32, ChunkFrames: 16})

	e.Play([]Source{{
		Path: "slow-open.wav",
		Open: func() (decode.Decoder, error) {
			<-release
			return &fakeDecoder{format: format, data: data}, nil
		},
	}})

	// The state change must be visible while the open is still blocked;
	// a caller polling right after Play must not read idle.
	waitFor(t, "preparing state", func() bool { return e.Snapshot().State == StatePreparing })

	close(release)
	waitIdle(t, e)

	if got := out.snapshotWritten(); !bytes.Equal(got, data) {
		t.Fatal("track did not play after the deferred open")
	}
}

func TestSeekPastEndDrainsWithoutUnderrun(t *testing.T) {
	format := audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2, Encoding: audio.EncodingPCM}
	data := patternFrames(2000, format.FrameBytes(), 0x66)

	out := newFakeOutput(pcmCap())
	out.writeDelay = 200 * time.Microsecond

	e, _ := startEngine(t, out, Config{RingFrames: 512, PrimeFrames: 128, ChunkFrames: 32})
	e.Play([]Source{sourceFor("t.wav", &fakeDecoder{format: format, data: data})})

	waitFor(t, "playing state", func() bool { return e.Snapshot().State == StatePlaying })
	e.Seek(1 << 20)
	waitIdle(t, e)

	if got := e.Snapshot().Underruns; got != 0 {
		t.Errorf("seek past the end counted %d underruns, want 0", got)
	}
	out.mu.Lock()
	prepares := out.prepares
	out.mu.Unlock()
	if prepares != 0 {
		t.Errorf("device was re-prepared %d times on an empty stream, want 0", prepares)
	}
}

func TestSnapshotConsistency(t *testing.T) {
	format := audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2, Encoding: audio.EncodingPCM}
	data := patternFrames(20000, format.FrameBytes(), 0x99)

	out := newFakeOutput(pcmCap())
	out.writeDelay = 100 * time.Microsecond

	e, _ := startEngine(t, out, Config{RingFrames: 1024, PrimeFrames: 256, ChunkFrames: 64})
	e.SetVolumeDB(0)
	e.Play([]Source{sourceFor("t.wav", &fakeDecoder{format: format, data: data})})

	waitFor(t, "playing state", func() bool { return e.Snapshot().State == StatePlaying })

	// Concurrent readers must always see complete snapshots.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s := e.Snapshot()
				if s.State == StatePlaying && s.TrackPath != "t.wav" {
					t.Error("snapshot mixes states from different sessions")
					return
				}
				if s.TotalFrames != 0 && s.PositionFrames > s.TotalFrames+1024 {
					t.Errorf("position %d ran past total %d", s.PositionFrames, s.TotalFrames)
					return
				}
			}
		}()
	}
	wg.Wait()

	waitIdle(t, e)
}
