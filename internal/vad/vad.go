// Package vad wraps the WebRTC voice activity detector for 16-bit PCM audio.
package vad

import (
	"encoding/binary"
	"errors"
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

const (
	DefaultRate = 8000
	DefaultMode = 0
)

var (
	ErrInvalidConfig      = errors.New("invalid vad config")
	ErrInvalidFrameLength = errors.New("invalid frame length")
)

// FrameDurationsMs lists the frame durations the detector accepts.
var FrameDurationsMs = []int{10, 20, 30}

// VAD classifies fixed-duration frames as voice or non-voice. A VAD is not
// safe for concurrent use.
type VAD struct {
	inst *webrtcvad.VAD
	rate int
	mode int
	buf  []byte
}

// New creates a detector at DefaultRate in DefaultMode.
func New() (*VAD, error) {
	return NewWithRateAndMode(DefaultRate, DefaultMode)
}

// NewWithRateAndMode creates a detector for the given sample rate (8000,
// 16000, 32000 or 48000 Hz) and aggressiveness mode (0 to 3).
func NewWithRateAndMode(rate, mode int) (*VAD, error) {
	switch rate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, rate)
	}
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("%w: mode %d", ErrInvalidConfig, mode)
	}
	inst, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if err := inst.SetMode(mode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &VAD{inst: inst, rate: rate, mode: mode}, nil
}

func (v *VAD) Rate() int { return v.rate }
func (v *VAD) Mode() int { return v.mode }

// FrameSamples returns the sample count of a frame of ms milliseconds at rate.
func FrameSamples(rate, ms int) int { return rate / 1000 * ms }

// ValidFrame reports whether n samples form an accepted frame at rate.
func ValidFrame(rate, n int) bool {
	for _, ms := range FrameDurationsMs {
		if n == FrameSamples(rate, ms) {
			return true
		}
	}
	return false
}

// Process reports whether the frame contains voice.
func (v *VAD) Process(samples []int16) (bool, error) {
	if !ValidFrame(v.rate, len(samples)) {
		return false, fmt.Errorf("%w: %d samples at %d Hz", ErrInvalidFrameLength, len(samples), v.rate)
	}
	if cap(v.buf) < 2*len(samples) {
		v.buf = make([]byte, 2*len(samples))
	}
	buf := v.buf[:2*len(samples)]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	voice, err := v.inst.Process(v.rate, buf)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidFrameLength, err)
	}
	return voice, nil
}
