// ABOUTME: ALSA exclusive-mode output backend
// ABOUTME: Opens hw devices directly with exact hardware params for bit-perfect playback
package output

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/gen2brain/alsa"
	"golang.org/x/sys/unix"

	"github.com/elitebox/elitebox-go/pkg/audio"
)

// Device candidates tried in order when no device is named. USB DACs
// typically enumerate after the onboard card, so higher cards first.
var probeOrder = []string{"hw:2,0", "hw:1,0", "hw:0,0"}

const defaultPeriodCount = 4

// ALSA is an Output backed by direct hardware access through /dev/snd.
// It bypasses the dmix/pulse plugin layers entirely, so the device is
// held exclusively and samples are played exactly as written.
type ALSA struct {
	card   uint
	device uint
	name   string

	bufferMS int
	dop      bool

	pcm          *alsa.PCM
	format       audio.Format
	bufferFrames int
}

// ALSAOptions configure an ALSA output.
type ALSAOptions struct {
	// BufferMS is the target hardware buffer length in milliseconds.
	BufferMS int
	// EnableDoP advertises DSD-over-PCM support in the capability.
	// DoP is a convention between the player and the DAC; it cannot be
	// probed from hw_params.
	EnableDoP bool
}

// NewALSA creates an ALSA output for the named device ("hw:C,D").
// The device is not opened until ConfigureExact.
func NewALSA(name string, opts ALSAOptions) (*ALSA, error) {
	card, device, err := parseHWName(name)
	if err != nil {
		return nil, err
	}
	if opts.BufferMS <= 0 {
		opts.BufferMS = 100
	}
	return &ALSA{
		card:     card,
		device:   device,
		name:     name,
		bufferMS: opts.BufferMS,
		dop:      opts.EnableDoP,
	}, nil
}

// ProbeDevice returns the first hardware playback device that responds,
// trying hw:2,0, hw:1,0, hw:0,0 in that order.
func ProbeDevice() (string, error) {
	for _, name := range probeOrder {
		card, device, err := parseHWName(name)
		if err != nil {
			continue
		}
		if _, err := alsa.PcmParamsGet(card, device, alsa.PCM_OUT); err == nil {
			log.Printf("ALSA: auto-selected device %s", name)
			return name, nil
		}
	}
	return "", errors.New("no ALSA playback device found")
}

// parseHWName parses "hw:C,D" into card and device numbers.
func parseHWName(name string) (uint, uint, error) {
	rest, ok := strings.CutPrefix(name, "hw:")
	if !ok {
		return 0, 0, fmt.Errorf("invalid device name %q: expected hw:card,device", name)
	}
	parts := strings.Split(rest, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid device name %q: expected hw:card,device", name)
	}
	card, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid card in %q: %w", name, err)
	}
	device, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid device in %q: %w", name, err)
	}
	return uint(card), uint(device), nil
}

// Capability probes the device's refined hardware params.
func (a *ALSA) Capability() (audio.Capability, error) {
	params, err := alsa.PcmParamsGet(a.card, a.device, alsa.PCM_OUT)
	if err != nil {
		return audio.Capability{}, fmt.Errorf("probe %s: %w", a.name, err)
	}

	minRate, err := params.Min(alsa.SNDRV_PCM_HW_PARAM_RATE)
	if err != nil {
		return audio.Capability{}, fmt.Errorf("probe %s rate: %w", a.name, err)
	}
	maxRate, err := params.Max(alsa.SNDRV_PCM_HW_PARAM_RATE)
	if err != nil {
		return audio.Capability{}, fmt.Errorf("probe %s rate: %w", a.name, err)
	}
	minCh, err := params.Min(alsa.SNDRV_PCM_HW_PARAM_CHANNELS)
	if err != nil {
		return audio.Capability{}, fmt.Errorf("probe %s channels: %w", a.name, err)
	}
	maxCh, err := params.Max(alsa.SNDRV_PCM_HW_PARAM_CHANNELS)
	if err != nil {
		return audio.Capability{}, fmt.Errorf("probe %s channels: %w", a.name, err)
	}

	return audio.Capability{
		MinRate:     int(minRate),
		MaxRate:     int(maxRate),
		MinChannels: int(minCh),
		MaxChannels: int(maxCh),
		S16LE:       params.FormatIsSupported(alsa.SNDRV_PCM_FORMAT_S16_LE),
		S24LE3:      params.FormatIsSupported(alsa.SNDRV_PCM_FORMAT_S24_3LE),
		S32LE:       params.FormatIsSupported(alsa.SNDRV_PCM_FORMAT_S32_LE),
		DoP:         a.dop,
	}, nil
}

// ConfigureExact opens the device with exactly the requested hardware
// format. An already-open handle is closed first so the new stream
// starts from a clean SETUP state.
func (a *ALSA) ConfigureExact(f audio.Format) error {
	if !f.Valid() || f.Encoding != audio.EncodingPCM {
		return fmt.Errorf("%w: %v is not a hardware PCM format", ErrFormatRejected, f)
	}

	if a.pcm != nil {
		_ = a.pcm.Close()
		a.pcm = nil
	}

	pcmFormat, err := pcmFormatFor(f.BitDepth)
	if err != nil {
		return err
	}

	bufferFrames := uint32(f.SampleRate * a.bufferMS / 1000)
	periodSize := nextPow2(bufferFrames / defaultPeriodCount)
	bufferFrames = periodSize * defaultPeriodCount

	// Start only once the whole buffer is primed, wake the writer at
	// half-buffer, and never auto-restart after an xrun: an underrun
	// is a fault the engine must see, not paper over.
	config := alsa.Config{
		Channels:       uint32(f.Channels),
		Rate:           uint32(f.SampleRate),
		PeriodSize:     periodSize,
		PeriodCount:    defaultPeriodCount,
		Format:         pcmFormat,
		StartThreshold: bufferFrames,
		StopThreshold:  bufferFrames,
		AvailMin:       bufferFrames / 2,
	}

	pcm, err := alsa.PcmOpen(a.card, a.device, alsa.PCM_OUT|alsa.PCM_NORESTART, &config)
	if err != nil {
		return fmt.Errorf("open %s: %w", a.name, err)
	}

	// The kernel refines hw_params toward what the hardware supports.
	// Anything other than the exact request means the device cannot do
	// this format natively.
	if pcm.Rate() != uint32(f.SampleRate) || pcm.Channels() != uint32(f.Channels) || pcm.Format() != pcmFormat {
		got := fmt.Sprintf("%dHz %dch format=%d", pcm.Rate(), pcm.Channels(), pcm.Format())
		_ = pcm.Close()
		return fmt.Errorf("%w: asked %v, device refined to %s", ErrFormatRejected, f, got)
	}

	a.pcm = pcm
	a.format = f
	a.bufferFrames = int(pcm.BufferSize())

	log.Printf("ALSA: %s configured %v, buffer %d frames (%d periods of %d)",
		a.name, f, a.bufferFrames, pcm.PeriodCount(), pcm.PeriodSize())

	return nil
}

// WriteDirect writes whole frames to the device verbatim.
func (a *ALSA) WriteDirect(p []byte) (int, error) {
	if a.pcm == nil {
		return 0, ErrNotConfigured
	}
	n, err := a.pcm.Write(p)
	if err != nil {
		if errors.Is(err, unix.EPIPE) {
			return n, fmt.Errorf("%w: %v", ErrUnderrun, err)
		}
		return n, fmt.Errorf("write %s: %w", a.name, err)
	}
	return n, nil
}

// Pause pauses or resumes the stream in place.
func (a *ALSA) Pause(enable bool) error {
	if a.pcm == nil {
		return ErrNotConfigured
	}
	if err := a.pcm.Pause(enable); err != nil {
		return fmt.Errorf("pause %s: %w", a.name, err)
	}
	return nil
}

// Drain blocks until every queued sample has played.
func (a *ALSA) Drain() error {
	if a.pcm == nil {
		return ErrNotConfigured
	}
	if err := a.pcm.Drain(); err != nil {
		return fmt.Errorf("drain %s: %w", a.name, err)
	}
	return nil
}

// Prepare readies the device for writing after a drain or underrun.
func (a *ALSA) Prepare() error {
	if a.pcm == nil {
		return ErrNotConfigured
	}
	if err := a.pcm.Prepare(); err != nil {
		return fmt.Errorf("prepare %s: %w", a.name, err)
	}
	return nil
}

// BufferFrames returns the configured hardware buffer size in frames.
func (a *ALSA) BufferFrames() int { return a.bufferFrames }

// Xruns returns the number of underruns seen since the device opened.
func (a *ALSA) Xruns() int {
	if a.pcm == nil {
		return 0
	}
	return a.pcm.Xruns()
}

// Close releases the device.
func (a *ALSA) Close() error {
	if a.pcm == nil {
		return nil
	}
	err := a.pcm.Close()
	a.pcm = nil
	a.bufferFrames = 0
	return err
}

// pcmFormatFor maps a bit depth to the ALSA sample format used on the wire.
func pcmFormatFor(bitDepth int) (alsa.PcmFormat, error) {
	switch bitDepth {
	case 16:
		return alsa.SNDRV_PCM_FORMAT_S16_LE, nil
	case 24:
		return alsa.SNDRV_PCM_FORMAT_S24_3LE, nil
	case 32:
		return alsa.SNDRV_PCM_FORMAT_S32_LE, nil
	default:
		return alsa.SNDRV_PCM_FORMAT_INVALID, fmt.Errorf("%w: no ALSA format for %d-bit samples", ErrFormatRejected, bitDepth)
	}
}

// nextPow2 rounds v up to a power of two. ALSA period sizes are happiest
// as powers of two.
func nextPow2(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	return v + 1
}
