package types

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Windows walked backward via Previous must stay contiguous and strictly
// decreasing for any window size and step count.
func TestWindowChainProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("Previous chain is contiguous and decreasing", prop.ForAll(
		func(hours int, steps int) bool {
			size := time.Duration(hours) * time.Hour
			w := NewWindow(time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), size)

			for i := 0; i < steps; i++ {
				prev := w.Previous()
				if !prev.End.Equal(w.Start) {
					return false
				}
				if !prev.Start.Before(w.Start) {
					return false
				}
				if prev.Duration() != size {
					return false
				}
				w = prev
			}
			return true
		},
		gen.IntRange(1, 48),
		gen.IntRange(1, 100),
	))

	properties.TestingRun(t)
}
