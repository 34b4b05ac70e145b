// Command vadcheck runs the voice activity detectors over a raw 16-bit
// little-endian mono PCM file and prints one decision per frame.
package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/obs"
	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/vad"
)

type options struct {
	Rate    int
	Mode    int
	FrameMs int
}

// Decision is the detector output for one frame.
type Decision struct {
	Offset time.Duration
	Voice  bool
	Energy bool
	RMS    float64
}

func main() {
	var opts options
	fs := pflag.NewFlagSet("vadcheck", pflag.ExitOnError)
	fs.IntVar(&opts.Rate, "rate", vad.DefaultRate, "sample rate of the input in Hz")
	fs.IntVar(&opts.Mode, "mode", vad.DefaultMode, "aggressiveness mode 0-3")
	fs.IntVar(&opts.FrameMs, "frame-ms", 30, "frame duration in ms (10, 20 or 30)")
	_ = fs.Parse(os.Args[1:])
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: vadcheck [flags] <file.pcm>")
		os.Exit(2)
	}
	f, err := os.Open(fs.Arg(0))
	if err != nil {
		obs.Error("vadcheck.open", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	defer f.Close()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	n := 0
	err = analyze(f, opts, func(d Decision) {
		n++
		fmt.Fprintf(out, "%8.3fs voice=%-5t energy=%-5t rms=%.4f\n", d.Offset.Seconds(), d.Voice, d.Energy, d.RMS)
	})
	if err != nil {
		obs.Error("vadcheck.analyze", obs.Fields{"err": err.Error(), "frames": n})
		out.Flush()
		os.Exit(1)
	}
}

// analyze splits r into frames and calls emit for each one. A trailing
// partial frame is ignored.
func analyze(r io.Reader, opts options, emit func(Decision)) error {
	v, err := vad.NewWithRateAndMode(opts.Rate, opts.Mode)
	if err != nil {
		return err
	}
	samples := vad.FrameSamples(opts.Rate, opts.FrameMs)
	if !vad.ValidFrame(opts.Rate, samples) {
		return fmt.Errorf("%w: %d ms", vad.ErrInvalidFrameLength, opts.FrameMs)
	}
	energy := vad.NewEnergyDetector()
	raw := make([]byte, 2*samples)
	frame := make([]int16, samples)
	step := time.Duration(opts.FrameMs) * time.Millisecond
	for i := 0; ; i++ {
		if _, err := io.ReadFull(r, raw); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		for j := range frame {
			frame[j] = int16(binary.LittleEndian.Uint16(raw[2*j:]))
		}
		voice, err := v.Process(frame)
		if err != nil {
			return err
		}
		emit(Decision{
			Offset: time.Duration(i) * step,
			Voice:  voice,
			Energy: energy.Process(frame),
			RMS:    vad.RMS(frame),
		})
	}
}
