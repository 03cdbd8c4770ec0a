// ABOUTME: Tests for output backends
// ABOUTME: Covers device name parsing, format mapping, and exact-or-fail checks
package output

import (
	"errors"
	"testing"

	"github.com/gen2brain/alsa"

	"github.com/elitebox/elitebox-go/pkg/audio"
)

var (
	_ Output = (*ALSA)(nil)
	_ Output = (*Oto)(nil)
)

func TestParseHWName(t *testing.T) {
	tests := []struct {
		name    string
		card    uint
		device  uint
		wantErr bool
	}{
		{"hw:0,0", 0, 0, false},
		{"hw:2,0", 2, 0, false},
		{"hw:1,3", 1, 3, false},
		{"plughw:0,0", 0, 0, true},
		{"default", 0, 0, true},
		{"hw:0", 0, 0, true},
		{"hw:a,b", 0, 0, true},
		{"", 0, 0, true},
	}

	for _, tt := range tests {
		card, device, err := parseHWName(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseHWName(%q): expected error, got none", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseHWName(%q): %v", tt.name, err)
			continue
		}
		if card != tt.card || device != tt.device {
			t.Errorf("parseHWName(%q) = %d,%d, want %d,%d", tt.name, card, device, tt.card, tt.device)
		}
	}
}

func TestPcmFormatFor(t *testing.T) {
	tests := []struct {
		bitDepth int
		want     alsa.PcmFormat
		wantErr  bool
	}{
		{16, alsa.SNDRV_PCM_FORMAT_S16_LE, false},
		{24, alsa.SNDRV_PCM_FORMAT_S24_3LE, false},
		{32, alsa.SNDRV_PCM_FORMAT_S32_LE, false},
		{8, 0, true},
		{20, 0, true},
	}

	for _, tt := range tests {
		got, err := pcmFormatFor(tt.bitDepth)
		if tt.wantErr {
			if err == nil {
				t.Errorf("pcmFormatFor(%d): expected error", tt.bitDepth)
			}
			if !errors.Is(err, ErrFormatRejected) {
				t.Errorf("pcmFormatFor(%d): error should wrap ErrFormatRejected", tt.bitDepth)
			}
			continue
		}
		if err != nil {
			t.Errorf("pcmFormatFor(%d): %v", tt.bitDepth, err)
			continue
		}
		if got != tt.want {
			t.Errorf("pcmFormatFor(%d) = %v, want %v", tt.bitDepth, got, tt.want)
		}
	}
}

func TestNextPow2(t *testing.T) {
	tests := []struct{ in, want uint32 }{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{1000, 1024},
		{1024, 1024},
		{1025, 2048},
	}
	for _, tt := range tests {
		if got := nextPow2(tt.in); got != tt.want {
			t.Errorf("nextPow2(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestALSARejectsBadName(t *testing.T) {
	if _, err := NewALSA("default", ALSAOptions{}); err == nil {
		t.Fatal("expected error for non-hw device name")
	}
}

func TestALSAUnconfiguredOperations(t *testing.T) {
	a, err := NewALSA("hw:0,0", ALSAOptions{BufferMS: 50})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.WriteDirect(make([]byte, 16)); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("WriteDirect before configure: got %v, want ErrNotConfigured", err)
	}
	if err := a.Drain(); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Drain before configure: got %v, want ErrNotConfigured", err)
	}
	if err := a.Pause(true); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Pause before configure: got %v, want ErrNotConfigured", err)
	}
	if a.BufferFrames() != 0 {
		t.Errorf("BufferFrames before configure = %d, want 0", a.BufferFrames())
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close before configure: %v", err)
	}
}

func TestALSAConfigureRejectsDSD(t *testing.T) {
	a, err := NewALSA("hw:0,0", ALSAOptions{})
	if err != nil {
		t.Fatal(err)
	}
	f := audio.Format{SampleRate: 2822400, BitDepth: 1, Channels: 2, Encoding: audio.EncodingDSD}
	if err := a.ConfigureExact(f); !errors.Is(err, ErrFormatRejected) {
		t.Errorf("ConfigureExact(DSD): got %v, want ErrFormatRejected", err)
	}
}

func TestOtoCapability(t *testing.T) {
	o := NewOto(100)
	cap, err := o.Capability()
	if err != nil {
		t.Fatal(err)
	}
	if !cap.S16LE || cap.S24LE3 || cap.S32LE {
		t.Errorf("oto capability should be S16LE only, got %+v", cap)
	}
	if cap.DoP {
		t.Error("oto must never advertise DoP")
	}
}

func TestOtoRejectsNon16Bit(t *testing.T) {
	o := NewOto(100)
	for _, f := range []audio.Format{
		{SampleRate: 96000, BitDepth: 24, Channels: 2, Encoding: audio.EncodingPCM},
		{SampleRate: 44100, BitDepth: 32, Channels: 2, Encoding: audio.EncodingPCM},
		{SampleRate: 2822400, BitDepth: 1, Channels: 2, Encoding: audio.EncodingDSD},
		{SampleRate: 44100, BitDepth: 16, Channels: 6, Encoding: audio.EncodingPCM},
	} {
		if err := o.ConfigureExact(f); !errors.Is(err, ErrFormatRejected) {
			t.Errorf("ConfigureExact(%v): got %v, want ErrFormatRejected", f, err)
		}
	}
}

func TestOtoUnconfiguredOperations(t *testing.T) {
	o := NewOto(100)
	if _, err := o.WriteDirect(make([]byte, 4)); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("WriteDirect before configure: got %v, want ErrNotConfigured", err)
	}
	if err := o.Drain(); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Drain before configure: got %v, want ErrNotConfigured", err)
	}
}
