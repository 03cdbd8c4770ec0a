// ABOUTME: Gapless playback engine and state machine
// ABOUTME: Runs the decode producer and real-time hardware writer over the ring transport
package engine

import (
	"context"
	"errors"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/elitebox/elitebox-go/internal/ring"
	"github.com/elitebox/elitebox-go/internal/rt"
	"github.com/elitebox/elitebox-go/pkg/audio"
	"github.com/elitebox/elitebox-go/pkg/audio/output"
)

// Config tunes the engine.
type Config struct {
	// RingFrames is the transport capacity in hardware frames.
	RingFrames int
	// PrimeFrames is the minimum fill before the writer starts or
	// restarts the device. Starting below this guarantees an immediate
	// underrun.
	PrimeFrames int
	// ChunkFrames is the writer's per-write granularity.
	ChunkFrames int
	// ElevateRT asks for SCHED_FIFO, CPU pinning and memory locking on
	// the writer thread. All best-effort.
	ElevateRT bool
	// CPUCore pins the writer thread when >= 0.
	CPUCore int
}

func (c *Config) setDefaults() {
	if c.RingFrames <= 0 {
		c.RingFrames = 32768
	}
	if c.PrimeFrames <= 0 || c.PrimeFrames > c.RingFrames {
		c.PrimeFrames = c.RingFrames / 2
	}
	if c.ChunkFrames <= 0 {
		c.ChunkFrames = 2048
	}
}

type cmdKind int

const (
	cmdPlay cmdKind = iota
	cmdPause
	cmdResume
	cmdStop
	cmdNext
	cmdPrev
	cmdSeek
	cmdVolume
)

type command struct {
	kind    cmdKind
	sources []Source
	seek    uint64
}

// outcome tells the session loop why a stream ended.
type outcome int

const (
	// outcomeContinue means the stream keeps going (gapless splice).
	outcomeContinue outcome = -1

	outcomeFinished outcome = iota
	outcomeFormatChange
	outcomeStopped
	outcomeSkip
	outcomeSeek
	outcomeRestart
	outcomeCanceled
	outcomeDeviceError
)

// Engine drives playback: it owns the playlist cursor, the transport,
// the decode producer (its own run goroutine) and the hardware writer
// goroutine. External callers interact only through commands and
// snapshots; nothing here is safe to call from two goroutines except
// the exported command methods and Snapshot.
type Engine struct {
	out output.Output
	cfg Config

	cmds chan command
	snap *snapshotBox

	// Shared with the writer thread. Atomics only; the writer must not
	// take locks or touch the snapshot pointer.
	volumeCenti  atomic.Int64
	underruns    atomic.Uint64
	played       atomic.Uint64
	pauseReq     atomic.Bool
	writerStop   atomic.Bool
	producerDone atomic.Bool
	repriming    atomic.Bool
	writerErr    atomic.Pointer[string]

	// Run-loop owned. Never touched by the writer.
	ring       *ring.Buffer
	capability audio.Capability
	playlist   []Source
	index      int
	current    *track
	next       *track
	nextTried  bool
	staged     []byte
	convBuf    []byte

	committed     uint64 // hw frames committed into the ring this writer session
	trackBoundary uint64 // committed count at which the current track began
	posBase       uint64 // source frames consumed before this writer session (seek)

	writerDone chan struct{}
}

// New creates an engine on top of an output device.
func New(out output.Output, cfg Config) *Engine {
	cfg.setDefaults()
	return &Engine{
		out:  out,
		cfg:  cfg,
		cmds: make(chan command, 16),
		snap: newSnapshotBox(),
	}
}

// Snapshot returns the current immutable playback snapshot.
func (e *Engine) Snapshot() *Snapshot { return e.snap.Load() }

// Play replaces the queue and starts playback from its first track.
// Once Play returns the snapshot no longer reads idle, so callers can
// tell a request that has not started yet from one that finished.
func (e *Engine) Play(sources []Source) {
	if e.snap.Load().State == StateIdle {
		e.snap.Publish(Snapshot{
			State:      StatePreparing,
			TrackCount: len(sources),
			VolumeDB:   e.VolumeDB(),
			Underruns:  e.underruns.Load(),
		})
	}
	e.cmds <- command{kind: cmdPlay, sources: sources}
}

// Pause pauses playback in place.
func (e *Engine) Pause() { e.cmds <- command{kind: cmdPause} }

// Resume resumes paused playback.
func (e *Engine) Resume() { e.cmds <- command{kind: cmdResume} }

// Stop drains the device and returns to idle.
func (e *Engine) Stop() { e.cmds <- command{kind: cmdStop} }

// Next skips to the next queued track, wrapping at the end of the queue.
func (e *Engine) Next() { e.cmds <- command{kind: cmdNext} }

// Previous skips to the previous track, wrapping at the start.
func (e *Engine) Previous() { e.cmds <- command{kind: cmdPrev} }

// Seek repositions the current track to the given source frame.
func (e *Engine) Seek(frame uint64) { e.cmds <- command{kind: cmdSeek, seek: frame} }

// SetVolumeDB sets digital gain in dB. Values above 0 are clamped to
// unity; 0 means bit-perfect passthrough.
func (e *Engine) SetVolumeDB(db float64) {
	if db > 0 {
		db = 0
	}
	e.volumeCenti.Store(int64(db * 100))
	select {
	case e.cmds <- command{kind: cmdVolume}:
	default:
	}
}

// VolumeDB returns the configured gain in dB.
func (e *Engine) VolumeDB() float64 { return float64(e.volumeCenti.Load()) / 100 }

// Run processes commands and drives playback until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	defer e.teardown()
	defer e.out.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-e.cmds:
			switch cmd.kind {
			case cmdPlay:
				e.playlist = cmd.sources
				e.index = 0
				// Visible before any device or decoder work so callers can
				// tell an accepted play request apart from a finished one.
				e.publishState(StatePreparing)
				e.session(ctx)
			case cmdVolume:
				e.publishIdle()
			default:
				// Transport commands are meaningless while idle.
			}
		}
	}
}

// session plays through the queue until it finishes, is stopped, or the
// device fails.
func (e *Engine) session(ctx context.Context) {
	defer e.teardown()

	var pendingSeek *uint64

	for e.index >= 0 && e.index < len(e.playlist) {
		if e.current != nil {
			e.current.close()
			e.current = nil
		}
		if e.next != nil {
			e.next.close()
			e.next = nil
		}
		e.staged = nil
		e.nextTried = false

		cur, err := e.openCurrent()
		if err != nil {
			// Fatal to the track, not the queue: advance.
			log.Printf("engine: skipping %s: %v", e.playlist[e.index].Path, err)
			e.index++
			continue
		}

		if pendingSeek != nil {
			if err := cur.skip(*pendingSeek); err != nil {
				log.Printf("engine: seek in %s failed: %v", cur.source.Path, err)
			}
			e.posBase = cur.decoded
			pendingSeek = nil
		} else {
			e.posBase = 0
		}

		if err := e.configure(cur); err != nil {
			log.Printf("engine: skipping %s: %v", cur.source.Path, err)
			cur.close()
			e.index++
			continue
		}

		e.current = cur
		result, seek := e.stream(ctx)

		switch result {
		case outcomeFinished:
			e.publishState(StateIdle)
			return
		case outcomeFormatChange, outcomeSkip, outcomeRestart:
			// Loop reconfigures for the track at the updated index.
		case outcomeSeek:
			pendingSeek = &seek
		case outcomeStopped:
			e.publishState(StateIdle)
			return
		case outcomeCanceled:
			return
		case outcomeDeviceError:
			return
		}
	}

	e.publishState(StateIdle)
}

// openCurrent probes the device and opens the track at the queue cursor.
func (e *Engine) openCurrent() (*track, error) {
	cap, err := e.out.Capability()
	if err != nil {
		return nil, err
	}
	e.capability = cap
	return openTrack(e.playlist[e.index], cap)
}

// configure locks the hardware to the track's negotiated format and
// rebuilds the transport for its frame stride.
func (e *Engine) configure(t *track) error {
	hw := t.negotiated.Hardware
	if err := e.out.ConfigureExact(hw); err != nil {
		return err
	}
	e.ring = ring.New(e.cfg.RingFrames, hw.FrameBytes())
	log.Printf("engine: transport %d frames ahead of a %d frame device buffer",
		e.ring.Capacity(), e.out.BufferFrames())
	e.committed = 0
	e.trackBoundary = 0
	e.played.Store(0)
	return nil
}

// stream primes the transport, runs the writer, and produces frames
// until the queue ends or a command interrupts. Returns why it stopped
// and, for seeks, the target frame.
func (e *Engine) stream(ctx context.Context) (outcome, uint64) {
	e.publishState(StatePreparing)

	// Prime above the threshold before the device starts. A seek at or
	// past the end leaves the ring empty with nothing left to decode; in
	// that case resolve the transition here instead of starting the writer
	// on an empty ring, which would count a phantom underrun.
	for {
		for e.ring.AvailableRead() < e.cfg.PrimeFrames && !e.current.eos {
			if _, err := e.produce(); err != nil {
				log.Printf("engine: decode error in %s: %v", e.current.source.Path, err)
				e.index++
				return outcomeSkip, 0
			}
		}
		if !e.current.eos || e.ring.AvailableRead() > 0 {
			break
		}
		if e.finished() {
			if res := e.transition(); res != outcomeContinue {
				return res, 0
			}
			continue
		}
		if _, err := e.produce(); err != nil {
			log.Printf("engine: decode error in %s: %v", e.current.source.Path, err)
			e.index++
			return outcomeSkip, 0
		}
	}

	e.startWriter()
	e.publishState(StatePlaying)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.stopWriter()
			return outcomeCanceled, 0
		case <-e.writerDone:
			e.writerDone = nil
			if msg := e.writerErr.Load(); msg != nil {
				e.publishError(*msg)
				return outcomeDeviceError, 0
			}
			// Writer never exits on its own without an error while the
			// producer is live.
			e.publishError("writer exited unexpectedly")
			return outcomeDeviceError, 0
		case cmd := <-e.cmds:
			if res, seek, done := e.handleCommand(cmd); done {
				return res, seek
			}
		case <-ticker.C:
			e.publishProgress()
		default:
		}

		if e.finished() {
			res := e.transition()
			if res != outcomeContinue {
				return res, 0
			}
			continue
		}

		progressed, err := e.produce()
		if err != nil {
			log.Printf("engine: decode error in %s: %v", e.current.source.Path, err)
			e.stopWriter()
			e.index++
			return outcomeSkip, 0
		}
		if !progressed {
			// Transport full and staging satisfied: nothing to do until
			// the writer frees space.
			time.Sleep(2 * time.Millisecond)
		}
	}
}

// finished reports that every frame of the current track has been
// committed to the ring and the transition decision can be taken.
// Staged bytes with no pending next track belong to the current track
// after a splice and must flush first; a queued successor that has not
// been pre-opened yet gets its chance before the decision.
func (e *Engine) finished() bool {
	if !e.current.eos {
		return false
	}
	if e.next == nil && !e.nextTried && e.index+1 < len(e.playlist) {
		return false
	}
	return e.next != nil || len(e.staged) == 0
}

// produce moves one batch of frames toward the ring: post-splice staged
// bytes first, then fresh decode from the current track, then pre-decode
// of the next track into staging. Reports whether any bytes moved.
func (e *Engine) produce() (bool, error) {
	free := e.ring.AvailableWrite()
	stride := e.ring.FrameStride()

	if free > 0 {
		// Staged bytes belong to the current track once the splice has
		// committed (next is nil). Before the splice they stay out of
		// the live ring.
		if e.next == nil && len(e.staged) > 0 {
			frames := len(e.staged) / stride
			if frames > free {
				frames = free
			}
			n := e.ring.Write(e.staged[:frames*stride])
			e.staged = e.staged[n*stride:]
			e.committed += uint64(n)
			return n > 0, nil
		}

		if !e.current.eos {
			srcFrames := free
			if srcFrames > 4096 {
				srcFrames = 4096
			}
			data, err := e.current.next(srcFrames)
			if err != nil {
				return false, err
			}
			if len(data) > 0 {
				conv, err := e.convertAndGain(e.current, data)
				if err != nil {
					return false, err
				}
				n := e.ring.Write(conv)
				e.committed += uint64(n)
				return n > 0, nil
			}
		}
	}

	return e.stageAhead(), nil
}

// convertAndGain applies digital gain at the source representation, then
// the negotiated conversion, reusing the scratch buffer.
func (e *Engine) convertAndGain(t *track, data []byte) ([]byte, error) {
	src := t.dec.Format()
	if src.Encoding == audio.EncodingPCM {
		if mult := gainMultiplier(e.VolumeDB()); mult < 1.0 {
			applyGain(data, src.BitDepth, mult)
		}
	}
	conv, err := t.negotiated.Apply(e.convBuf[:0], data)
	if err != nil {
		return nil, err
	}
	e.convBuf = conv
	return conv, nil
}

// stageAhead pre-decodes the next queued track into the staging buffer
// once the current track is near its end. Staged frames stay out of the
// live ring until the transition commits, so two tracks' frames never
// interleave. Reports whether any staging work happened.
func (e *Engine) stageAhead() bool {
	if e.next == nil && !e.nextTried {
		if e.current.remaining() > uint64(e.cfg.PrimeFrames) && !e.current.eos {
			return false
		}
		if e.index+1 >= len(e.playlist) {
			return false
		}
		e.nextTried = true
		t, err := openTrack(e.playlist[e.index+1], e.capability)
		if err != nil {
			log.Printf("engine: pre-open of %s failed: %v", e.playlist[e.index+1].Path, err)
			return false
		}
		e.next = t
	}

	if e.next == nil || e.next.eos {
		return false
	}
	if e.next.negotiated.Hardware != e.current.negotiated.Hardware {
		// Differing formats transition through drain + reconfigure; the
		// opened decoder waits, nothing is staged.
		return false
	}

	stride := e.ring.FrameStride()
	limit := e.cfg.PrimeFrames * stride
	if len(e.staged) >= limit {
		return false
	}

	data, err := e.next.next(2048)
	if err != nil {
		log.Printf("engine: pre-decode of %s failed: %v", e.next.source.Path, err)
		e.next.close()
		e.next = nil
		return false
	}
	if len(data) == 0 {
		return false
	}
	conv, err := e.convertAndGain(e.next, data)
	if err != nil {
		log.Printf("engine: pre-decode of %s failed: %v", e.next.source.Path, err)
		e.next.close()
		e.next = nil
		return false
	}
	e.staged = append(e.staged, conv...)
	return true
}

// transition handles the end of the current track. Returns a session
// outcome, or -1 when playback continues in this stream (gapless splice).
func (e *Engine) transition() outcome {
	if e.next != nil && e.next.negotiated.Hardware == e.current.negotiated.Hardware {
		// Gapless seam: no hardware calls, no ring reset. The staged
		// frames of the next track follow the current track's last
		// committed frame directly.
		e.publishState(StateTransitioning)
		e.current.close()
		e.current = e.next
		e.next = nil
		e.nextTried = false
		e.index++
		e.trackBoundary = e.committed
		e.posBase = 0
		e.publishState(StatePlaying)
		return -1
	}

	if e.index+1 < len(e.playlist) {
		// Format change (or a failed pre-open retried by the session
		// loop): exactly one drain, then one reconfigure. The audible
		// gap is expected and reported as a state change, not an error.
		e.publishState(StateDraining)
		e.finishWriter()
		e.index++
		return outcomeFormatChange
	}

	// End of queue.
	e.publishState(StateDraining)
	e.finishWriter()
	e.index = len(e.playlist)
	return outcomeFinished
}

// handleCommand processes a control command mid-stream. done reports
// whether the stream must end with the given outcome.
func (e *Engine) handleCommand(cmd command) (outcome, uint64, bool) {
	switch cmd.kind {
	case cmdPause:
		e.pauseReq.Store(true)
		e.publishState(StatePaused)
	case cmdResume:
		e.pauseReq.Store(false)
		e.publishState(StatePlaying)
	case cmdStop:
		e.publishState(StateDraining)
		e.stopWriter()
		return outcomeStopped, 0, true
	case cmdNext:
		e.stopWriter()
		e.index = (e.index + 1) % len(e.playlist)
		return outcomeSkip, 0, true
	case cmdPrev:
		e.stopWriter()
		e.index--
		if e.index < 0 {
			e.index = len(e.playlist) - 1
		}
		return outcomeSkip, 0, true
	case cmdSeek:
		e.stopWriter()
		return outcomeSeek, cmd.seek, true
	case cmdPlay:
		e.stopWriter()
		e.playlist = cmd.sources
		e.index = 0
		e.publishState(StatePreparing)
		return outcomeRestart, 0, true
	case cmdVolume:
		e.publishProgress()
	}
	return 0, 0, false
}

// startWriter launches the hardware-writer goroutine for one device
// configuration session.
func (e *Engine) startWriter() {
	e.writerStop.Store(false)
	e.producerDone.Store(false)
	e.writerErr.Store(nil)
	done := make(chan struct{})
	e.writerDone = done
	go e.writerLoop(e.ring, done)
}

// stopWriter cooperatively cancels the writer without draining.
func (e *Engine) stopWriter() {
	if e.writerDone == nil {
		return
	}
	e.writerStop.Store(true)
	<-e.writerDone
	e.writerDone = nil
	e.writerStop.Store(false)
	e.pauseReq.Store(false)
}

// finishWriter lets the writer consume the remaining ring content, drain
// the device, and exit.
func (e *Engine) finishWriter() {
	if e.writerDone == nil {
		return
	}
	e.producerDone.Store(true)
	<-e.writerDone
	e.writerDone = nil
	e.producerDone.Store(false)
}

// writerLoop is the hardware-facing consumer. It runs on a locked OS
// thread, optionally elevated to real-time scheduling, and is the only
// goroutine allowed to call blocking device I/O. It never waits on the
// producer directly; it only observes the ring fill level.
func (e *Engine) writerLoop(rb *ring.Buffer, done chan struct{}) {
	defer close(done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if e.cfg.ElevateRT {
		if err := rt.ElevatePriority(); err != nil {
			log.Printf("engine: running without realtime priority: %v", err)
		}
		if err := rt.LockMemory(); err != nil {
			log.Printf("engine: running without locked memory: %v", err)
		}
		if e.cfg.CPUCore >= 0 {
			if err := rt.PinToCPU(e.cfg.CPUCore); err != nil {
				log.Printf("engine: running without CPU pinning: %v", err)
			}
		}
	}

	paused := false
	for {
		if e.writerStop.Load() {
			if paused {
				_ = e.out.Pause(false)
			}
			_ = e.out.Drain()
			return
		}

		if req := e.pauseReq.Load(); req != paused {
			if err := e.out.Pause(req); err != nil {
				log.Printf("engine: pause failed: %v", err)
			}
			paused = req
		}
		if paused {
			if e.producerDone.Load() {
				// The producer committed the last frame and is waiting for
				// this thread to drain. Holding the pause here would block
				// that wait forever, so play the tail out.
				if err := e.out.Pause(false); err != nil {
					log.Printf("engine: resume failed: %v", err)
				}
				paused = false
				e.pauseReq.Store(false)
				continue
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		view := rb.ReadView(e.cfg.ChunkFrames)
		if view == nil {
			if e.producerDone.Load() {
				if err := e.out.Drain(); err != nil {
					log.Printf("engine: drain failed: %v", err)
				}
				return
			}
			// The producer stalled and the device ran dry. Count it,
			// re-prime above the threshold, and restart rather than
			// aborting the stream.
			e.underruns.Add(1)
			e.repriming.Store(true)
			for rb.AvailableRead() < e.cfg.PrimeFrames &&
				!e.producerDone.Load() && !e.writerStop.Load() {
				time.Sleep(time.Millisecond)
			}
			e.repriming.Store(false)
			if err := e.out.Prepare(); err != nil {
				e.failWriter(err)
				return
			}
			continue
		}

		n, err := e.out.WriteDirect(view)
		if n > 0 {
			rb.AdvanceRead(n)
			e.played.Add(uint64(n))
		}
		if err != nil {
			if errors.Is(err, output.ErrUnderrun) {
				e.underruns.Add(1)
				if perr := e.out.Prepare(); perr != nil {
					e.failWriter(perr)
					return
				}
				continue
			}
			e.failWriter(err)
			return
		}
	}
}

func (e *Engine) failWriter(err error) {
	msg := err.Error()
	e.writerErr.Store(&msg)
}

// teardown releases the session without touching the device config; the
// device itself is closed when Run exits.
func (e *Engine) teardown() {
	e.stopWriter()
	if e.current != nil {
		e.current.close()
		e.current = nil
	}
	if e.next != nil {
		e.next.close()
		e.next = nil
	}
	e.staged = nil
	if e.ring != nil {
		e.ring.Reset()
		e.ring = nil
	}
}

// position returns the played position of the current track in source
// frames.
func (e *Engine) position() uint64 {
	played := e.played.Load()
	if played < e.trackBoundary {
		return e.posBase
	}
	return e.posBase + (played - e.trackBoundary)
}

func (e *Engine) publishState(s State) {
	e.snap.Publish(e.buildSnapshot(s))
}

func (e *Engine) publishProgress() {
	s := e.snap.Load().State
	if e.repriming.Load() && s == StatePlaying {
		s = StatePreparing
	}
	e.snap.Publish(e.buildSnapshot(s))
}

func (e *Engine) publishError(msg string) {
	snap := e.buildSnapshot(StateError)
	snap.Err = msg
	e.snap.Publish(snap)
}

func (e *Engine) publishIdle() {
	e.snap.Publish(Snapshot{
		State:     StateIdle,
		VolumeDB:  e.VolumeDB(),
		Underruns: e.underruns.Load(),
	})
}

func (e *Engine) buildSnapshot(s State) Snapshot {
	snap := Snapshot{
		State:      s,
		TrackIndex: e.index,
		TrackCount: len(e.playlist),
		VolumeDB:   e.VolumeDB(),
		Underruns:  e.underruns.Load(),
	}
	if e.current != nil {
		snap.TrackID = e.current.id
		snap.TrackPath = e.current.source.Path
		snap.TrackTitle = e.current.meta.Title
		snap.TrackArtist = e.current.meta.Artist
		snap.Format = e.current.negotiated.Source
		snap.HWFormat = e.current.negotiated.Hardware
		snap.Conversion = e.current.negotiated.Conversion.String()
		snap.PositionFrames = e.position()
		snap.TotalFrames = e.current.total
	}
	if e.next != nil {
		snap.NextPath = e.next.source.Path
	}
	return snap
}
