package block

import (
	"github.com/c360/streamrt/tag"
)

// Settings are the scheduling attributes a block declares.
type Settings struct {
	// History is the number of items each input window holds before the
	// first new item, plus one. One means no look-back.
	History int
	// Interpolation and Decimation declare a fixed rate: every Decimation
	// input items yield Interpolation output items. Zero means general rate
	// (the block implements Forecaster or consumes explicitly).
	Interpolation int
	Decimation    int
	// OutputMultiple forces produced counts to multiples of it.
	OutputMultiple int
	// MinNOutput and MaxNOutput bound one call's output request. Zero
	// MaxNOutput means no limit.
	MinNOutput int
	MaxNOutput int
	// TagPolicy selects how input tags reach the outputs.
	TagPolicy tag.Policy
	// MaxMessages bounds each input message queue. Zero means unbounded.
	MaxMessages int
}

// DefaultSettings are those of a 1:1 synchronous block.
func DefaultSettings() Settings {
	return Settings{
		History:        1,
		Interpolation:  1,
		Decimation:     1,
		OutputMultiple: 1,
		MinNOutput:     1,
		TagPolicy:      tag.AllToAll,
	}
}

// FixedRate reports whether the block declared an interpolation/decimation
// relation.
func (s Settings) FixedRate() bool {
	return s.Interpolation > 0 && s.Decimation > 0
}

// Forecast returns the input items needed for noutput items of a fixed-rate
// block.
func (s Settings) Forecast(noutput int) int {
	if !s.FixedRate() {
		return noutput
	}
	return (noutput*s.Decimation + s.Interpolation - 1) / s.Interpolation
}

// OutputFor returns the output items a fixed-rate block can make from
// ninput items.
func (s Settings) OutputFor(ninput int) int {
	if !s.FixedRate() {
		return ninput
	}
	return ninput * s.Interpolation / s.Decimation
}

// ConsumedFor returns the input items a fixed-rate block used up producing
// noutput items.
func (s Settings) ConsumedFor(noutput int) int {
	if !s.FixedRate() {
		return 0
	}
	return noutput * s.Decimation / s.Interpolation
}

// LargestCall returns the largest output request one call may make, or
// fallback when the block sets no limit.
func (s Settings) LargestCall(fallback int) int {
	if s.MaxNOutput > 0 {
		return s.MaxNOutput
	}
	return fallback
}

// normalized fills defaults and, for fixed-rate blocks, makes every output
// request a whole number of interpolation steps so ConsumedFor is exact.
func (s Settings) normalized() Settings {
	if s.History < 1 {
		s.History = 1
	}
	if s.OutputMultiple < 1 {
		s.OutputMultiple = 1
	}
	if s.FixedRate() {
		step := s.Interpolation / gcd(s.Interpolation, s.Decimation)
		s.OutputMultiple = lcm(s.OutputMultiple, step)
	}
	if s.MinNOutput < 1 {
		s.MinNOutput = 1
	}
	s.MinNOutput = roundUp(s.MinNOutput, s.OutputMultiple)
	if s.MaxNOutput > 0 {
		s.MaxNOutput = max(s.MaxNOutput-s.MaxNOutput%s.OutputMultiple, s.MinNOutput)
	}
	return s
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}

func roundUp(n, quantum int) int {
	return (n + quantum - 1) / quantum * quantum
}
