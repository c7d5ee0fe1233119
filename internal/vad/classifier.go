// Package vad decides which spans of audio contain speech.
//
// A Classifier labels single frames; a Segmenter turns the label stream into
// segment open/close events using hysteresis.
package vad

import "math"

// Classification is the verdict for one frame.
type Classification struct {
	Active     bool
	Confidence float32
}

// Classifier labels a frame as speech or non-speech. Implementations must be
// stateless between calls.
type Classifier interface {
	Classify(samples []int16) Classification
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(samples []int16) Classification

func (f ClassifierFunc) Classify(samples []int16) Classification { return f(samples) }

// EnergyClassifier marks a frame active when its RMS level, normalised to
// [0, 1], reaches Threshold.
type EnergyClassifier struct {
	Threshold float64
}

const DefaultThreshold = 0.02

func NewEnergyClassifier(threshold float64) EnergyClassifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return EnergyClassifier{Threshold: threshold}
}

func (c EnergyClassifier) Classify(samples []int16) Classification {
	thr := c.Threshold
	if thr <= 0 {
		thr = DefaultThreshold
	}
	level := RMS(samples)
	if level < thr {
		return Classification{Active: false, Confidence: float32(1 - level/thr)}
	}
	conf := 0.5 + 0.5*(level-thr)/thr
	if conf > 1 {
		conf = 1
	}
	return Classification{Active: true, Confidence: float32(conf)}
}

// RMS returns the root mean square of samples scaled to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
