package backoff

import (
	"runtime"
	"time"
)

// Stage is the kind of wait Backoff performs on the next Pause.
type Stage int

const (
	Spin Stage = iota
	Yield
	Sleep
)

func (s Stage) String() string {
	switch s {
	case Spin:
		return "spin"
	case Yield:
		return "yield"
	case Sleep:
		return "sleep"
	default:
		return "unknown"
	}
}

const (
	spinSteps  = 6
	yieldSteps = 14

	minSleep = 10 * time.Microsecond
	maxSleep = time.Millisecond
)

// Backoff is an escalating wait used between attempts of a retry loop.
//
// The first few pauses busy-wait for an exponentially growing number of
// iterations, then the goroutine yields the processor, and finally it
// sleeps with a doubling duration capped at one millisecond.
//
// The zero value is ready to use. A Backoff must not be shared between
// goroutines; keep one per retry loop.
type Backoff struct {
	step  int
	sleep time.Duration
}

// Pause waits once and moves to the next step.
func (b *Backoff) Pause() {
	switch b.Stage() {
	case Spin:
		spin(1 << b.step)
	case Yield:
		runtime.Gosched()
	case Sleep:
		if b.sleep == 0 {
			b.sleep = minSleep
		}
		time.Sleep(b.sleep)
		b.sleep = min(2*b.sleep, maxSleep)
	}
	if b.step < yieldSteps {
		b.step++
	}
}

// Reset returns b to the first spin step.
func (b *Backoff) Reset() {
	b.step = 0
	b.sleep = 0
}

// Stage reports what the next Pause will do.
func (b *Backoff) Stage() Stage {
	switch {
	case b.step < spinSteps:
		return Spin
	case b.step < yieldSteps:
		return Yield
	default:
		return Sleep
	}
}

//go:noinline
func spin(n int) {
	for i := 0; i < n; i++ {
	}
}
