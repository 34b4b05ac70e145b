package vad

import "math"

// EnergyDetector is a cheap RMS-threshold detector with hysteresis: voice is
// reported after MinVoiceFrames consecutive loud frames and cleared after
// MinSilenceFrames consecutive quiet ones.
type EnergyDetector struct {
	Threshold        float64 // RMS of samples normalized to [-1, 1]
	MinVoiceFrames   int
	MinSilenceFrames int

	detected     bool
	voiceCount   int
	silenceCount int
}

func NewEnergyDetector() *EnergyDetector {
	return &EnergyDetector{Threshold: 0.2, MinVoiceFrames: 3, MinSilenceFrames: 5}
}

// RMS returns the root mean square of samples normalized to [-1, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var acc float64
	for _, s := range samples {
		f := float64(s) / 32768
		acc += f * f
	}
	return math.Sqrt(acc / float64(len(samples)))
}

// Process feeds one frame and returns the smoothed voice state.
func (d *EnergyDetector) Process(samples []int16) bool {
	if RMS(samples) > d.Threshold {
		d.voiceCount++
		d.silenceCount = 0
		if d.voiceCount >= d.MinVoiceFrames {
			d.detected = true
		}
	} else {
		d.silenceCount++
		d.voiceCount = 0
		if d.silenceCount >= d.MinSilenceFrames {
			d.detected = false
		}
	}
	return d.detected
}

// Reset clears the detector state.
func (d *EnergyDetector) Reset() {
	d.detected = false
	d.voiceCount = 0
	d.silenceCount = 0
}
