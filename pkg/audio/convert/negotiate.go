// ABOUTME: Hardware format negotiation
// ABOUTME: Chooses the exact device configuration for a source format
package convert

import (
	"errors"
	"fmt"

	"github.com/elitebox/elitebox-go/pkg/audio"
)

// ErrNoCompatibleFormat means the hardware cannot accept the source format
// even after the permitted lossless conversions.
var ErrNoCompatibleFormat = errors.New("no compatible hardware format")

// Conversion identifies the transformation applied between decoder output
// and the bytes handed to the hardware.
type Conversion int

const (
	// ConversionNone passes source bytes through untouched.
	ConversionNone Conversion = iota
	// ConversionWiden24To32 sign-extends packed 24-bit samples into 32-bit
	// containers. Representation changes, values do not.
	ConversionWiden24To32
	// ConversionDoP wraps DSD bytes in PCM frames with DoP marker bytes.
	ConversionDoP
)

func (c Conversion) String() string {
	switch c {
	case ConversionNone:
		return "none"
	case ConversionWiden24To32:
		return "widen-24-to-32"
	case ConversionDoP:
		return "dop"
	default:
		return "unknown"
	}
}

// Negotiated is the outcome of format negotiation: the exact format to
// configure on the hardware and the conversion the transport must apply.
type Negotiated struct {
	Source     audio.Format
	Hardware   audio.Format
	Conversion Conversion
}

// Negotiate chooses the hardware configuration for a source format.
// Preference order: exact native match, then lossless bit-width widening,
// then DSD-over-PCM for DSD sources, then failure. Down-sampling and
// bit-depth narrowing are never performed.
func Negotiate(source audio.Format, cap audio.Capability) (Negotiated, error) {
	if !source.Valid() {
		return Negotiated{}, fmt.Errorf("negotiate %v: %w", source, ErrNoCompatibleFormat)
	}

	if source.Encoding == audio.EncodingDSD {
		return negotiateDSD(source, cap)
	}

	if !cap.SupportsRate(source.SampleRate) || !cap.SupportsChannels(source.Channels) {
		return Negotiated{}, fmt.Errorf("negotiate %v: %w", source, ErrNoCompatibleFormat)
	}

	switch source.BitDepth {
	case 16:
		if cap.S16LE {
			return Negotiated{Source: source, Hardware: source, Conversion: ConversionNone}, nil
		}
	case 24:
		if cap.S24LE3 {
			return Negotiated{Source: source, Hardware: source, Conversion: ConversionNone}, nil
		}
		if cap.S32LE {
			hw := source
			hw.BitDepth = 32
			return Negotiated{Source: source, Hardware: hw, Conversion: ConversionWiden24To32}, nil
		}
	case 32:
		if cap.S32LE {
			return Negotiated{Source: source, Hardware: source, Conversion: ConversionNone}, nil
		}
	}

	return Negotiated{}, fmt.Errorf("negotiate %v: %w", source, ErrNoCompatibleFormat)
}

// negotiateDSD maps a DSD source onto DoP PCM frames. Native DSD output is
// not attempted; a PCM-only device without a DoP-declared DAC is a hard
// failure rather than a guessed fallback.
func negotiateDSD(source audio.Format, cap audio.Capability) (Negotiated, error) {
	if !cap.DoP || !cap.S32LE {
		return Negotiated{}, fmt.Errorf("negotiate %v: %w", source, ErrNoCompatibleFormat)
	}

	// One 32-bit DoP sample carries one DSD byte (8 one-bit samples), so the
	// PCM frame rate is the DSD bit rate divided by 8.
	pcmRate := source.SampleRate / 8
	if !cap.SupportsRate(pcmRate) || !cap.SupportsChannels(source.Channels) {
		return Negotiated{}, fmt.Errorf("negotiate %v: %w", source, ErrNoCompatibleFormat)
	}

	hw := audio.Format{
		SampleRate: pcmRate,
		BitDepth:   32,
		Channels:   source.Channels,
		Encoding:   audio.EncodingPCM,
	}
	return Negotiated{Source: source, Hardware: hw, Conversion: ConversionDoP}, nil
}

// ConvertedBytes returns the number of output bytes produced for n source
// bytes under the negotiated conversion.
func (n Negotiated) ConvertedBytes(srcBytes int) int {
	switch n.Conversion {
	case ConversionWiden24To32:
		return srcBytes / 3 * 4
	case ConversionDoP:
		return srcBytes * 4
	default:
		return srcBytes
	}
}

// Apply runs the negotiated conversion, appending converted bytes to dst
// and returning the extended slice. ConversionNone appends src unchanged.
func (n Negotiated) Apply(dst, src []byte) ([]byte, error) {
	switch n.Conversion {
	case ConversionNone:
		return append(dst, src...), nil
	case ConversionWiden24To32:
		return AppendWidened24To32(dst, src)
	case ConversionDoP:
		return AppendDoP(dst, src), nil
	default:
		return dst, fmt.Errorf("unknown conversion %d", n.Conversion)
	}
}
