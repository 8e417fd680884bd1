package capability

import (
	"strings"
	"unicode"
)

const (
	kilobyte = 1024
	megabyte = 1024 * 1024

	// Audio payloads are assumed to be 16 kB per second of speech.
	audioBytesPerSecond = 16000
)

// TextComplexity scores free text by length, word count and symbol density.
// Bands are additive and the sum is clamped to 1.
func TextComplexity(text string) float64 {
	var score float64

	switch n := len([]rune(text)); {
	case n > 200:
		score += 0.3
	case n > 100:
		score += 0.2
	case n > 50:
		score += 0.1
	}

	switch n := len(strings.Fields(text)); {
	case n > 30:
		score += 0.3
	case n > 15:
		score += 0.2
	case n > 5:
		score += 0.1
	}

	symbols := 0
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			symbols++
		}
	}
	switch {
	case symbols > 10:
		score += 0.2
	case symbols > 5:
		score += 0.1
	}

	return clamp(score)
}

// ImageComplexity scores an image by pixel area and aspect ratio.
func ImageComplexity(width, height int) float64 {
	var score float64

	switch area := width * height; {
	case area > 2_000_000:
		score += 0.4
	case area > 1_000_000:
		score += 0.2
	}

	if width > 0 && height > 0 {
		ratio := float64(width) / float64(height)
		if ratio > 3 || ratio < 0.33 {
			score += 0.2
		}
	}

	return clamp(score)
}

// AudioDurationSeconds estimates clip length from its byte size.
func AudioDurationSeconds(size int) float64 {
	return float64(size) / audioBytesPerSecond
}

// AudioComplexity scores an audio clip by estimated duration and byte size.
func AudioComplexity(size int) float64 {
	var score float64

	switch d := AudioDurationSeconds(size); {
	case d > 30:
		score += 0.4
	case d > 10:
		score += 0.2
	case d > 5:
		score += 0.1
	}

	switch {
	case size > megabyte:
		score += 0.3
	case size > 500*kilobyte:
		score += 0.2
	case size > 100*kilobyte:
		score += 0.1
	}

	return clamp(score)
}
