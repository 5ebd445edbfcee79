package backoff

import "time"

// Policy converts a retry attempt number (1-based) into the delay a task
// waits before becoming eligible again. Delays must be monotonic
// non-decreasing in the attempt number.
type Policy interface {
	Delay(attempt int) time.Duration
}

// Linear grows the delay by a fixed step per attempt: Step, 2*Step, 3*Step...
// A Max of zero means uncapped.
type Linear struct {
	Step time.Duration
	Max  time.Duration
}

// Delay ...
func (p Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * p.Step
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Exponential doubles the delay per attempt: Base, 2*Base, 4*Base...
// capped at Max.
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// Delay ...
func (p Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Default - one minute per attempt, capped at one hour.
func Default() Policy {
	return Linear{Step: time.Minute, Max: time.Hour}
}
