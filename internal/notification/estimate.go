package notification

import (
	"math"
	"strings"
	"time"
)

const (
	// ReadingRate is the assumed reading speed in words per minute.
	ReadingRate = 120
	// GraceSeconds is added to every estimate.
	GraceSeconds = 2
)

// EstimateTimeout returns how many seconds a notification should stay on
// screen: reading time for title and body at ReadingRate plus GraceSeconds.
// Halves round to even, so a single word reads in 0s and the result is 2.
func EstimateTimeout(title, body string) int {
	words := len(strings.Fields(title)) + len(strings.Fields(body))
	reading := math.RoundToEven(float64(words) / ReadingRate * 60)
	return int(reading) + GraceSeconds
}

// EstimateDuration is EstimateTimeout as a time.Duration.
func EstimateDuration(title, body string) time.Duration {
	return time.Duration(EstimateTimeout(title, body)) * time.Second
}
