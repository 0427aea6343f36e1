package engine

import (
	"fmt"
	"time"
)

// Phase is the stage of the betting round, derived purely from the wall
// clock's position within the current minute. Deriving phase from the clock
// rather than an internal counter keeps every channel and every process
// self-synchronized: anyone sampling the same clock computes the same phase.
type Phase string

const (
	// PhaseStop covers seconds 0-10: the previous round is settled and
	// broadcast, no wagers are accepted.
	PhaseStop Phase = "stop"
	// PhaseBetting covers seconds 11-50: wagers are accepted.
	PhaseBetting Phase = "betting"
	// PhaseSpinning covers seconds 51-59: wagers are frozen and the outcome
	// has been drawn; clients animate the wheel.
	PhaseSpinning Phase = "spinning"
)

const (
	bettingStartSecond  = 11
	spinningStartSecond = 51
)

// PhaseAt returns the phase for a given second within the minute.
func PhaseAt(second int) Phase {
	switch {
	case second < bettingStartSecond:
		return PhaseStop
	case second < spinningStartSecond:
		return PhaseBetting
	default:
		return PhaseSpinning
	}
}

// PhaseOf returns the phase for a point in time.
func PhaseOf(t time.Time) Phase {
	return PhaseAt(t.Second())
}

// SecondsRemaining returns the countdown displayed to clients: seconds left
// until the current phase ends.
func SecondsRemaining(t time.Time) int {
	sec := t.Second()
	switch PhaseAt(sec) {
	case PhaseStop:
		return bettingStartSecond - 1 - sec
	case PhaseBetting:
		return spinningStartSecond - 1 - sec
	default:
		return 60 - sec
	}
}

// RoundNumberAt derives the round number for a point in time: MMDD followed by
// the minute-of-day plus one, zero-padded to four digits. Unique per channel
// per calendar day, incrementing once per clock-minute.
func RoundNumberAt(t time.Time) string {
	minuteOfDay := t.Hour()*60 + t.Minute() + 1
	return fmt.Sprintf("%02d%02d%04d", int(t.Month()), t.Day(), minuteOfDay)
}
