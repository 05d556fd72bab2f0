package services

import "time"

// Clock abstracts the engine's time source so tests can age records without
// sleeping. Production code uses SystemClock.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
