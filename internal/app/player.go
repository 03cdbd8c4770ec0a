// ABOUTME: Main player application orchestration
// ABOUTME: Resolves the output device, builds track sources, and drives the engine
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/elitebox/elitebox-go/internal/engine"
	"github.com/elitebox/elitebox-go/pkg/audio/decode"
	"github.com/elitebox/elitebox-go/pkg/audio/output"
)

// Config holds player configuration
type Config struct {
	// Device is an ALSA hardware name ("hw:C,D") or "auto" to probe.
	Device string
	// Backend selects "alsa" (exclusive, bit-perfect) or "oto"
	// (shared-mode fallback).
	Backend string
	// BufferMS is the hardware buffer target in milliseconds.
	BufferMS int
	// Realtime requests SCHED_FIFO and memory locking for the writer.
	Realtime bool
	// CPUCore pins the writer thread when >= 0.
	CPUCore int
	// EnableDoP advertises DSD-over-PCM support on the DAC.
	EnableDoP bool
	// VolumeDB is the initial digital gain (attenuation only).
	VolumeDB float64
	// RingFrames overrides the transport capacity when > 0.
	RingFrames int
}

// Player wires the output device and the playback engine together and
// exposes the control surface consumed by the frontend.
type Player struct {
	config Config
	engine *engine.Engine
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a player, resolving and probing the output device.
func New(config Config) (*Player, error) {
	out, err := newOutput(config)
	if err != nil {
		return nil, err
	}

	eng := engine.New(out, engine.Config{
		RingFrames: config.RingFrames,
		ElevateRT:  config.Realtime,
		CPUCore:    config.CPUCore,
	})
	eng.SetVolumeDB(config.VolumeDB)

	ctx, cancel := context.WithCancel(context.Background())
	return &Player{
		config: config,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

// newOutput builds the output backend for the configuration. "auto"
// device selection probes the usual hardware slots and falls back to the
// shared-mode backend when no direct device responds.
func newOutput(config Config) (output.Output, error) {
	switch config.Backend {
	case "oto":
		log.Printf("Using shared-mode output; playback is not bit-perfect")
		return output.NewOto(config.BufferMS), nil
	case "", "alsa":
	default:
		return nil, fmt.Errorf("unknown backend %q", config.Backend)
	}

	device := config.Device
	if device == "" || device == "auto" {
		probed, err := output.ProbeDevice()
		if err != nil {
			log.Printf("No direct hardware device found (%v); falling back to shared-mode output", err)
			return output.NewOto(config.BufferMS), nil
		}
		device = probed
	}

	return output.NewALSA(device, output.ALSAOptions{
		BufferMS:  config.BufferMS,
		EnableDoP: config.EnableDoP,
	})
}

// Start runs the engine and begins playing the given files. It blocks
// until Stop is called.
func (p *Player) Start(paths []string) error {
	go func() {
		defer close(p.done)
		if err := p.engine.Run(p.ctx); err != nil {
			log.Printf("Engine stopped: %v", err)
		}
	}()

	if len(paths) > 0 {
		p.engine.Play(Sources(paths))
	}

	go p.statusLoop()

	<-p.ctx.Done()
	<-p.done
	return nil
}

// Sources builds engine track sources from file paths. Opening is
// deferred so a broken file surfaces when its turn comes and playback
// advances past it.
func Sources(paths []string) []engine.Source {
	sources := make([]engine.Source, 0, len(paths))
	for _, path := range paths {
		path := path
		sources = append(sources, engine.Source{
			Path: path,
			Open: func() (decode.Decoder, error) {
				dec, err := decode.Open(path)
				if err != nil {
					return nil, err
				}
				if tagged, ok := dec.(decode.Tagged); ok {
					meta := tagged.Metadata()
					if meta.Title != "" {
						log.Printf("Now decoding: %s - %s (%s)", meta.Artist, meta.Title, meta.Album)
					}
				}
				return dec, nil
			},
		})
	}
	return sources
}

// statusLoop logs playback progress the way a headless frontend would
// consume snapshots: read-only, never blocking the engine.
func (p *Player) statusLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var last engine.State
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			snap := p.engine.Snapshot()
			if snap.State == engine.StateIdle && last == engine.StateIdle {
				continue
			}
			last = snap.State

			if snap.TrackPath == "" {
				log.Printf("State: %s", snap.State)
				continue
			}
			pos := framesToDuration(snap.PositionFrames, snap.Format.SampleRate)
			total := framesToDuration(snap.TotalFrames, snap.Format.SampleRate)
			log.Printf("State: %s | %s [%s / %s] %v -> %v (%s) | underruns: %d",
				snap.State, snap.TrackPath, pos, total,
				snap.Format, snap.HWFormat, snap.Conversion, snap.Underruns)
		}
	}
}

func framesToDuration(frames uint64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(rate)
}

// Play replaces the queue with the given files and starts playback.
func (p *Player) Play(paths []string) { p.engine.Play(Sources(paths)) }

// Pause pauses playback.
func (p *Player) Pause() { p.engine.Pause() }

// Resume resumes playback.
func (p *Player) Resume() { p.engine.Resume() }

// Toggle flips between playing and paused.
func (p *Player) Toggle() {
	switch p.engine.Snapshot().State {
	case engine.StatePaused:
		p.engine.Resume()
	case engine.StatePlaying, engine.StateTransitioning, engine.StatePreparing:
		p.engine.Pause()
	}
}

// Next skips forward, wrapping at the end of the queue.
func (p *Player) Next() { p.engine.Next() }

// Previous skips backward, wrapping at the start.
func (p *Player) Previous() { p.engine.Previous() }

// StopPlayback drains the device and idles the engine.
func (p *Player) StopPlayback() { p.engine.Stop() }

// Seek jumps to an absolute position in the current track.
func (p *Player) Seek(to time.Duration) {
	snap := p.engine.Snapshot()
	if snap.Format.SampleRate <= 0 {
		return
	}
	frame := uint64(to.Seconds() * float64(snap.Format.SampleRate))
	p.engine.Seek(frame)
}

// SetVolumeDB sets digital attenuation in dB (<= 0).
func (p *Player) SetVolumeDB(db float64) { p.engine.SetVolumeDB(db) }

// Snapshot exposes the engine's read-only state feed.
func (p *Player) Snapshot() *engine.Snapshot { return p.engine.Snapshot() }

// Stop shuts the player down.
func (p *Player) Stop() {
	p.cancel()
	<-p.done
}
