package domain

import "time"

// Params carries every tunable the core consults. All time-based rules
// are evaluated lazily against an injected clock; nothing here starts a
// timer.
type Params struct {
	// Consensus ledger.
	MinAttesters          int
	AttestationWindow     time.Duration
	DeviationTolerancePct uint64
	StaleThreshold        time.Duration

	// Lifecycle.
	EscalationDelay       time.Duration
	PenaltyWindow         time.Duration
	CreditRenewalInterval time.Duration
	CreditCap             int

	// Enforcement.
	MinCollateralRatioPct uint64
	SustainedMinDuration  time.Duration
}

func DefaultParams() Params {
	return Params{
		MinAttesters:          3,
		AttestationWindow:     6 * time.Hour,
		DeviationTolerancePct: 5,
		StaleThreshold:        24 * time.Hour,
		EscalationDelay:       48 * time.Hour,
		PenaltyWindow:         90 * 24 * time.Hour,
		CreditRenewalInterval: 90 * 24 * time.Hour,
		CreditCap:             1,
		MinCollateralRatioPct: 100,
		SustainedMinDuration:  24 * time.Hour,
	}
}
