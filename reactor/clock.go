package reactor

import "time"

// Clock abstracts wall-clock time, adapted from the teacher's pcap
// package clock wrapper (pcap/clock.go). ControlExecutor reads it only to
// log when a PostAfter timer was scheduled; the timer itself always runs
// on real time (time.AfterFunc).
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SystemClock is the default Clock used when none is supplied.
var SystemClock Clock = realClock{}
