// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Capability types and sample conversion functions
// Package audio provides fundamental audio types and utilities for hi-res audio playback.
//
// This package defines core types used throughout the library:
//   - Format: Describes a stream format (sample rate, bit depth, channels, PCM/DSD encoding)
//   - Capability: Describes what an output device will accept without conversion
//
// It also provides utilities for converting between different sample formats:
//   - 16-bit ↔ 24-bit conversions
//   - int32 ↔ packed byte conversions
//
// Example:
//
//	format := audio.Format{
//	    SampleRate: 192000,
//	    BitDepth:   24,
//	    Channels:   2,
//	    Encoding:   audio.EncodingPCM,
//	}
//
//	// Bytes per interleaved frame
//	stride := format.FrameBytes()
package audio
