// ABOUTME: Audio decoder package for multiple container formats
// ABOUTME: Provides the frame-source Decoder interface consumed by the engine
// Package decode provides track decoders for local audio files.
//
// Supports: WAV, FLAC, MP3, Ogg Vorbis, DSF (DSD) and raw PCM.
//
// All decoders implement the Decoder interface and yield raw interleaved
// sample frames in the native packing of their format, so lossless sources
// reach the hardware bit-perfect. A decoder is a lazy, finite,
// non-restartable sequence: end of stream is reported exactly once, after
// which no further calls are made for that track instance.
//
// Example:
//
//	dec, err := decode.Open("track.flac")
//	frames, eos, err := dec.NextFrames(4096)
package decode
