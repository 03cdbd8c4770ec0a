// ABOUTME: Audio type definitions
// ABOUTME: Defines sample formats, hardware capabilities and packed-sample helpers
package audio

import "fmt"

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Encoding identifies how sample values are encoded in the stream.
type Encoding int

const (
	EncodingPCM Encoding = iota
	EncodingDSD
)

func (e Encoding) String() string {
	switch e {
	case EncodingPCM:
		return "pcm"
	case EncodingDSD:
		return "dsd"
	default:
		return "unknown"
	}
}

// Format describes an exact audio stream format. It is immutable once
// constructed; two tracks are gapless-compatible when their formats are equal.
type Format struct {
	SampleRate int
	BitDepth   int // 16, 24 or 32 for PCM; ignored for DSD
	Channels   int
	Encoding   Encoding
}

// FrameBytes returns the size in bytes of one interleaved frame in the
// format's native packing. 24-bit PCM is packed (3 bytes per sample).
// For DSD a frame is one byte per channel, carrying 8 one-bit samples.
func (f Format) FrameBytes() int {
	if f.Encoding == EncodingDSD {
		return f.Channels
	}
	return f.Channels * f.BitDepth / 8
}

// Valid reports whether the format is one the engine can represent.
func (f Format) Valid() bool {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return false
	}
	if f.Encoding == EncodingDSD {
		return true
	}
	return f.BitDepth == 16 || f.BitDepth == 24 || f.BitDepth == 32
}

func (f Format) String() string {
	if f.Encoding == EncodingDSD {
		return fmt.Sprintf("DSD %dHz %dch", f.SampleRate, f.Channels)
	}
	return fmt.Sprintf("PCM %dHz %dbit %dch", f.SampleRate, f.BitDepth, f.Channels)
}

// Capability is the set of formats an open device accepts without conversion,
// discovered at device-open time and read-only afterwards.
type Capability struct {
	MinRate     int
	MaxRate     int
	MinChannels int
	MaxChannels int

	// Accepted sample layouts.
	S16LE  bool // 16-bit little-endian
	S24LE3 bool // packed 24-bit little-endian (3 bytes)
	S32LE  bool // 32-bit little-endian container

	// DoP indicates the DAC was declared DoP-capable by configuration.
	// It is never probed from hardware.
	DoP bool
}

// SupportsRate reports whether rate falls in the device's accepted range.
func (c Capability) SupportsRate(rate int) bool {
	return rate >= c.MinRate && rate <= c.MaxRate
}

// SupportsChannels reports whether count falls in the device's accepted range.
func (c Capability) SupportsChannels(count int) bool {
	return count >= c.MinChannels && count <= c.MaxChannels
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	// Take lower 24 bits, pack little-endian
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	// Reconstruct 24-bit value and sign-extend to 32-bit
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF // Set upper 8 bits to 1 for negative values
	}
	return val
}
