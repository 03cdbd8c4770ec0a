// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for exclusive-mode hardware playback backends
package output

import (
	"errors"

	"github.com/elitebox/elitebox-go/pkg/audio"
)

// ErrFormatRejected is returned when the device cannot take the exact
// requested hardware format. The caller must renegotiate or give up;
// the output never substitutes a "close enough" format.
var ErrFormatRejected = errors.New("device rejected exact format")

// ErrNotConfigured is returned by operations that require a configured
// device before ConfigureExact has succeeded.
var ErrNotConfigured = errors.New("output not configured")

// ErrUnderrun is returned by WriteDirect when the device hit an underrun
// and stopped. The caller decides whether to re-prime and recover.
var ErrUnderrun = errors.New("device underrun")

// Output represents an audio output device opened for exclusive playback.
//
// The contract is exact-or-fail: ConfigureExact either sets the device to
// precisely the given hardware format or returns ErrFormatRejected.
// WriteDirect hands sample bytes to the device without modification.
type Output interface {
	// Capability reports what the device can do, probed without
	// committing to a configuration.
	Capability() (audio.Capability, error)

	// ConfigureExact (re)configures the device to exactly f. Any
	// previous configuration is torn down first.
	ConfigureExact(f audio.Format) error

	// WriteDirect writes whole frames to the device, blocking until the
	// device accepts them. Returns the number of frames written.
	// Returns ErrUnderrun if the device stopped on an xrun.
	WriteDirect(p []byte) (int, error)

	// Pause pauses (true) or resumes (false) the stream in place,
	// keeping queued samples.
	Pause(enable bool) error

	// Drain blocks until every queued sample has been played, then
	// leaves the device stopped.
	Drain() error

	// Prepare readies a stopped or underrun device for writing again.
	Prepare() error

	// BufferFrames returns the device buffer size in frames, or 0 if
	// not configured.
	BufferFrames() int

	// Close releases the device.
	Close() error
}
