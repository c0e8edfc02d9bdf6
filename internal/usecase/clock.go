package usecase

import "time"

// Clock is injected so expiry windows and coupon dates are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns wall-clock UTC time.
func SystemClock() Clock { return systemClock{} }

func orSystem(c Clock) Clock {
	if c == nil {
		return systemClock{}
	}
	return c
}
