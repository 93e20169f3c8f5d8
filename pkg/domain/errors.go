package domain

import "errors"

var (
	ErrUnauthorized            = errors.New("caller lacks required capability")
	ErrUnknownCustodian        = errors.New("unknown custodian")
	ErrDuplicateCustodian      = errors.New("custodian already registered")
	ErrInvalidTransition       = errors.New("transition not in allowed edge set")
	ErrRevoked                 = errors.New("custodian is revoked")
	ErrInsufficientPauseCredit = errors.New("insufficient pause credit")
	ErrPauseExpired            = errors.New("pause deadline passed, escalation due")
	ErrCapacityExceeded        = errors.New("minted amount would exceed capacity")
	ErrMintingNotAllowed       = errors.New("custodian cannot accept new obligations")
	ErrFulfillmentNotAllowed   = errors.New("custodian cannot fulfill obligations")
	ErrNotObjectiveViolation   = errors.New("reason is not an objective violation")
	ErrNoAttestations          = errors.New("no valid attestations buffered")
	ErrRedemptionExceedsMinted = errors.New("redemption exceeds minted amount")
	ErrInvalidPauseLevel       = errors.New("invalid pause level")
	ErrNotUnderReview          = errors.New("custodian is not under review")
)
