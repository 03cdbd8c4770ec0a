// ABOUTME: Hardware capability probe utility
// ABOUTME: Reports what formats an ALSA device accepts and how common sources would map
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/elitebox/elitebox-go/pkg/audio"
	"github.com/elitebox/elitebox-go/pkg/audio/convert"
	"github.com/elitebox/elitebox-go/pkg/audio/output"
)

var probeFormats = []audio.Format{
	{SampleRate: 44100, BitDepth: 16, Channels: 2, Encoding: audio.EncodingPCM},
	{SampleRate: 48000, BitDepth: 16, Channels: 2, Encoding: audio.EncodingPCM},
	{SampleRate: 96000, BitDepth: 24, Channels: 2, Encoding: audio.EncodingPCM},
	{SampleRate: 192000, BitDepth: 24, Channels: 2, Encoding: audio.EncodingPCM},
	{SampleRate: 192000, BitDepth: 32, Channels: 2, Encoding: audio.EncodingPCM},
	{SampleRate: 2822400, BitDepth: 1, Channels: 2, Encoding: audio.EncodingDSD},
}

func main() {
	device := flag.String("device", "auto", "ALSA device (hw:card,device) or 'auto'")
	dop := flag.Bool("dop", false, "Assume the DAC supports DSD-over-PCM")
	flag.Parse()

	name := *device
	if name == "auto" {
		probed, err := output.ProbeDevice()
		if err != nil {
			log.Fatalf("No playback device found: %v", err)
		}
		name = probed
	}

	out, err := output.NewALSA(name, output.ALSAOptions{EnableDoP: *dop})
	if err != nil {
		log.Fatalf("Failed to create output: %v", err)
	}
	defer out.Close()

	capability, err := out.Capability()
	if err != nil {
		log.Fatalf("Failed to probe %s: %v", name, err)
	}

	fmt.Printf("Device %s\n", name)
	fmt.Printf("  Rates:    %d - %d Hz\n", capability.MinRate, capability.MaxRate)
	fmt.Printf("  Channels: %d - %d\n", capability.MinChannels, capability.MaxChannels)
	fmt.Printf("  S16_LE:   %v\n", capability.S16LE)
	fmt.Printf("  S24_3LE:  %v\n", capability.S24LE3)
	fmt.Printf("  S32_LE:   %v\n", capability.S32LE)
	fmt.Printf("  DoP:      %v\n", capability.DoP)
	fmt.Println()

	exitCode := 0
	for _, f := range probeFormats {
		negotiated, err := convert.Negotiate(f, capability)
		if err != nil {
			fmt.Printf("  %-28v -> unsupported\n", f)
			exitCode = 1
			continue
		}
		fmt.Printf("  %-28v -> %v (%s)\n", f, negotiated.Hardware, negotiated.Conversion)
	}
	os.Exit(exitCode)
}
