// ABOUTME: Digital gain stage
// ABOUTME: Applies dB attenuation to PCM samples before they enter the transport
package engine

import (
	"math"

	"github.com/elitebox/elitebox-go/pkg/audio"
)

// gainMultiplier converts a dB value to a linear multiplier. Positive
// gain is clamped to unity: this stage only attenuates, it never pushes
// samples past full scale.
func gainMultiplier(db float64) float64 {
	if db >= 0 {
		return 1.0
	}
	return math.Pow(10, db/20)
}

// applyGain scales packed little-endian PCM samples in place. A unity
// multiplier leaves the bytes untouched so the bit-perfect path stays
// bit-perfect. DSD streams must never pass through here; scaling a DSD
// bitstream destroys it.
func applyGain(buf []byte, bitDepth int, multiplier float64) {
	if multiplier >= 1.0 {
		return
	}
	if multiplier <= 0 {
		for i := range buf {
			buf[i] = 0
		}
		return
	}

	switch bitDepth {
	case 16:
		for i := 0; i+1 < len(buf); i += 2 {
			s := int16(uint16(buf[i]) | uint16(buf[i+1])<<8)
			v := int16(math.Round(float64(s) * multiplier))
			buf[i] = byte(v)
			buf[i+1] = byte(v >> 8)
		}
	case 24:
		for i := 0; i+2 < len(buf); i += 3 {
			var b [3]byte
			copy(b[:], buf[i:i+3])
			s := audio.SampleFrom24Bit(b)
			v := int32(math.Round(float64(s) * multiplier))
			out := audio.SampleTo24Bit(v)
			copy(buf[i:i+3], out[:])
		}
	case 32:
		for i := 0; i+3 < len(buf); i += 4 {
			s := int32(uint32(buf[i]) | uint32(buf[i+1])<<8 | uint32(buf[i+2])<<16 | uint32(buf[i+3])<<24)
			v := int32(math.Round(float64(s) * multiplier))
			buf[i] = byte(v)
			buf[i+1] = byte(v >> 8)
			buf[i+2] = byte(v >> 16)
			buf[i+3] = byte(v >> 24)
		}
	}
}
