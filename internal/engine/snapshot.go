// ABOUTME: Observable player state
// ABOUTME: Lock-free immutable snapshots published to UI readers
package engine

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/elitebox/elitebox-go/pkg/audio"
)

// State is the playback state machine position.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StatePlaying
	StatePaused
	StateTransitioning
	StateDraining
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateTransitioning:
		return "transitioning"
	case StateDraining:
		return "draining"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the playback session. Readers get a
// complete, consistent snapshot without taking any lock; writers publish
// whole replacement snapshots, never field-level updates.
type Snapshot struct {
	State State

	TrackID     uuid.UUID
	TrackPath   string
	TrackTitle  string
	TrackArtist string
	TrackIndex  int
	TrackCount  int
	Format      audio.Format
	HWFormat    audio.Format
	Conversion  string
	NextPath    string

	PositionFrames uint64
	TotalFrames    uint64

	VolumeDB  float64
	Underruns uint64

	Err string
}

// snapshotBox owns publication. The engine run loop is the main writer;
// Play additionally publishes the initial preparing snapshot from the
// caller while the run loop is parked idle. The audio writer thread
// contributes through atomic counters that the run loop folds in, so it
// never touches the pointer itself.
type snapshotBox struct {
	p atomic.Pointer[Snapshot]
}

func newSnapshotBox() *snapshotBox {
	b := &snapshotBox{}
	b.p.Store(&Snapshot{State: StateIdle})
	return b
}

// Load returns the current snapshot. Safe from any goroutine.
func (b *snapshotBox) Load() *Snapshot {
	return b.p.Load()
}

// Publish replaces the snapshot.
func (b *snapshotBox) Publish(s Snapshot) {
	b.p.Store(&s)
}
