package domain

import "time"

// Status is the operational state of a qualified custodian. REVOKED is
// terminal: a revoked record accepts no further transitions.
type Status string

const (
	StatusActive        Status = "ACTIVE"
	StatusMintingPaused Status = "MINTING_PAUSED"
	StatusPaused        Status = "PAUSED"
	StatusUnderReview   Status = "UNDER_REVIEW"
	StatusRevoked       Status = "REVOKED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusMintingPaused, StatusPaused, StatusUnderReview, StatusRevoked:
		return true
	}
	return false
}

func (s Status) Terminal() bool { return s == StatusRevoked }

// CanAcceptNewObligation reports whether a custodian in this status may
// take on new minting obligations.
func (s Status) CanAcceptNewObligation() bool { return s == StatusActive }

// CanFulfillObligation reports whether a custodian in this status may
// still service existing obligations. Three of the five states preserve
// fulfillment; PAUSED and REVOKED do not.
func (s Status) CanFulfillObligation() bool {
	switch s {
	case StatusActive, StatusMintingPaused, StatusUnderReview:
		return true
	}
	return false
}

// PauseLevel selects how far a self-initiated pause goes.
type PauseLevel string

const (
	PauseMinting PauseLevel = "MINTING"
	PauseFull    PauseLevel = "FULL"
)

func (l PauseLevel) Valid() bool { return l == PauseMinting || l == PauseFull }

// DefaultHistory tracks confirmed redemption defaults for one custodian.
// Consecutive counts defaults whose spacing never exceeded the penalty
// window, measured from the previous default.
type DefaultHistory struct {
	Total           int       `json:"total"`
	Consecutive     int       `json:"consecutive"`
	LastAt          time.Time `json:"last_at,omitempty"`
	WhileUnderReview int      `json:"while_under_review"`
}

// Custodian is the lifecycle record for one qualified custodian. Amounts
// are denominated in satoshis.
type Custodian struct {
	ID              string         `json:"custodian_id"`
	Status          Status         `json:"status"`
	MaxMintCapacity uint64         `json:"max_mint_capacity"`
	Minted          uint64         `json:"minted"`
	PauseCredits    int            `json:"pause_credits"`
	CreditRenewedAt time.Time      `json:"credit_renewed_at"`
	LastSelfPauseAt time.Time      `json:"last_self_pause_at,omitempty"`
	PausedAt        time.Time      `json:"paused_at,omitempty"`
	Defaults        DefaultHistory `json:"defaults"`
	RegisteredAt    time.Time      `json:"registered_at"`
}
