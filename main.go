// ABOUTME: Entry point for the EliteBox bit-perfect player
// ABOUTME: Parses CLI flags, sets up logging, and runs the player application
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/elitebox/elitebox-go/internal/app"
	"github.com/elitebox/elitebox-go/internal/version"
)

var (
	device      = flag.String("device", "auto", "ALSA device (hw:card,device) or 'auto' to probe")
	backend     = flag.String("backend", "alsa", "Output backend: alsa (bit-perfect) or oto (shared mode)")
	bufferMs    = flag.Int("buffer-ms", 100, "Hardware buffer size in milliseconds")
	realtime    = flag.Bool("realtime", true, "Request SCHED_FIFO priority and memory locking for the writer thread")
	cpuCore     = flag.Int("cpu", -1, "Pin the writer thread to this CPU core (-1 to disable)")
	enableDoP   = flag.Bool("dop", false, "DAC supports DSD-over-PCM")
	volumeDB    = flag.Float64("volume-db", 0, "Digital attenuation in dB (0 = bit-perfect passthrough)")
	logFile     = flag.String("log-file", "", "Also write logs to this file")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", version.Product, version.Version)
		return
	}

	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: elitebox [flags] file...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatalf("error opening log file: %v", err)
		}
		defer func() { _ = f.Close() }()
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	log.Printf("Starting %s %s", version.Product, version.Version)

	player, err := app.New(app.Config{
		Device:    *device,
		Backend:   *backend,
		BufferMS:  *bufferMs,
		Realtime:  *realtime,
		CPUCore:   *cpuCore,
		EnableDoP: *enableDoP,
		VolumeDB:  *volumeDB,
	})
	if err != nil {
		log.Fatalf("Failed to create player: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go readCommands(player)

	go func() {
		<-sigChan
		log.Printf("Shutdown signal received")
		player.Stop()
	}()

	if err := player.Start(files); err != nil {
		log.Fatalf("Player failed: %v", err)
	}

	log.Printf("Player stopped")
}

// readCommands reads simple line commands from stdin: space toggles
// pause, n/p skip, s stops, seek <seconds>, vol <dB>, q quits.
func readCommands(player *app.Player) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			player.Toggle()
			continue
		}

		switch fields[0] {
		case "n", "next":
			player.Next()
		case "p", "prev":
			player.Previous()
		case "s", "stop":
			player.StopPlayback()
		case "seek":
			if len(fields) < 2 {
				continue
			}
			secs, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				log.Printf("Bad seek position %q", fields[1])
				continue
			}
			player.Seek(time.Duration(secs * float64(time.Second)))
		case "vol", "volume":
			if len(fields) < 2 {
				continue
			}
			db, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				log.Printf("Bad volume %q", fields[1])
				continue
			}
			player.SetVolumeDB(db)
		case "q", "quit":
			player.Stop()
			return
		default:
			player.Toggle()
		}
	}
}
