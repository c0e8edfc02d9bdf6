package model

import "time"

type SalesState string

const (
	SalesEnabled       SalesState = "enabled"
	SalesSuspended     SalesState = "suspended"      // stock hit zero; grace period running
	SalesSuspendedHard SalesState = "suspended_hard" // no new purchase intents accepted
)

// SalesGracePeriod is how long sales stay open after stock runs out.
const SalesGracePeriod = 5 * time.Minute

// SalesControl is the process-wide sale availability switch.
type SalesControl struct {
	State          SalesState
	SuspendedSince *time.Time
	HardDeadline   *time.Time
	UpdatedAt      time.Time
}

// DefaultSalesControl is the state of a fresh deployment.
func DefaultSalesControl() SalesControl {
	return SalesControl{State: SalesEnabled}
}

// Enabled reports whether new purchase intents are accepted.
func (s SalesControl) Enabled() bool {
	return s.State != SalesSuspendedHard
}
