package client

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: the poll backoff schedule starts at the initial interval, never
// decreases from one attempt to the next, and never exceeds the cap.
func TestProperty_PollBackoffSchedule(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("first attempt waits the initial interval", prop.ForAll(
		func(initialMs, maxFactor int) bool {
			initial := time.Duration(initialMs) * time.Millisecond
			max := initial * time.Duration(maxFactor)
			return exponentialBackoff(1, initial, max) == initial
		},
		gen.IntRange(1, 5000),
		gen.IntRange(1, 64),
	))

	properties.Property("backoff is non-decreasing in the attempt number", prop.ForAll(
		func(attempt, initialMs, maxFactor int) bool {
			initial := time.Duration(initialMs) * time.Millisecond
			max := initial * time.Duration(maxFactor)
			current := exponentialBackoff(attempt, initial, max)
			next := exponentialBackoff(attempt+1, initial, max)
			return next >= current
		},
		gen.IntRange(1, 63),
		gen.IntRange(1, 5000),
		gen.IntRange(1, 64),
	))

	properties.Property("backoff never exceeds the cap", prop.ForAll(
		func(attempt, initialMs, maxFactor int) bool {
			initial := time.Duration(initialMs) * time.Millisecond
			max := initial * time.Duration(maxFactor)
			backoff := exponentialBackoff(attempt, initial, max)
			return backoff >= initial && backoff <= max
		},
		gen.IntRange(1, 64),
		gen.IntRange(1, 5000),
		gen.IntRange(1, 64),
	))

	properties.TestingRun(t)
}
