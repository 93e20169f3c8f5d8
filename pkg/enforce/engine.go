// Package enforce evaluates objective rule violations against the
// consensus ledger and custodian supply, and requests restricted
// transitions when a violation holds. Anyone may call it; negative
// results are free.
package enforce

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/domain"
)

// ReserveSource is the consensus ledger surface the engine reads.
type ReserveSource interface {
	Reserve(custodianID string) (balance uint64, stale bool, err error)
}

// CustodianSource is the lifecycle surface the engine reads. The only
// transition it may drive is toward UNDER_REVIEW.
type CustodianSource interface {
	Minted(custodianID string) (uint64, error)
	MarkUnderReview(ctx context.Context, caller, custodianID string, reason domain.Reason) (bool, error)
}

// Verdict is the outcome of one check: symbolic, no free text.
type Verdict struct {
	Reason         domain.Reason `json:"reason"`
	Violated       bool          `json:"violated"`
	ReserveBalance uint64        `json:"reserve_balance"`
	Minted         uint64        `json:"minted"`
	Stale          bool          `json:"stale"`
	HeldFor        time.Duration `json:"held_for,omitempty"`
}

// BatchResult pairs a custodian id with its independent verdict. Err is
// a symbolic error string so one failing custodian never blocks others.
type BatchResult struct {
	CustodianID string  `json:"custodian_id"`
	Verdict     Verdict `json:"verdict"`
	Err         string  `json:"error,omitempty"`
}

// Engine is read-only over its two sources except for the sustained
// violation bookkeeping (first-observed timestamps) it owns itself.
type Engine struct {
	reserves   ReserveSource
	custodians CustodianSource
	params     domain.Params
	now        func() time.Time

	mu        sync.Mutex
	firstSeen map[string]time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(reserves ReserveSource, custodians CustodianSource, params domain.Params, opts ...Option) *Engine {
	e := &Engine{
		reserves:   reserves,
		custodians: custodians,
		params:     params,
		now:        func() time.Time { return time.Now().UTC() },
		firstSeen:  map[string]time.Time{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Check evaluates one reason for one custodian. Idempotent: repeated
// calls with no state change return the same verdict.
func (e *Engine) Check(ctx context.Context, custodianID string, reason domain.Reason) (Verdict, error) {
	if !reason.Objective() {
		return Verdict{}, domain.ErrNotObjectiveViolation
	}
	balance, stale, err := e.reserves.Reserve(custodianID)
	if err != nil {
		return Verdict{}, err
	}
	minted, err := e.custodians.Minted(custodianID)
	if err != nil {
		return Verdict{}, err
	}
	v := Verdict{
		Reason:         reason,
		ReserveBalance: balance,
		Minted:         minted,
		Stale:          stale,
	}

	switch reason {
	case domain.ReasonInsufficientReserves:
		v.Violated = insufficientReserves(balance, minted, e.params.MinCollateralRatioPct)
	case domain.ReasonStaleAttestation:
		v.Violated = stale
	case domain.ReasonSustainedViolation:
		underlying := stale || insufficientReserves(balance, minted, e.params.MinCollateralRatioPct)
		v.Violated, v.HeldFor = e.trackSustained(custodianID, underlying)
	}
	return v, nil
}

// trackSustained remembers when the underlying condition was first seen
// violated and reports violation only once it has held for the minimum
// duration. A clean observation resets the tracking.
func (e *Engine) trackSustained(custodianID string, violatedNow bool) (bool, time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if !violatedNow {
		delete(e.firstSeen, custodianID)
		return false, 0
	}
	first, ok := e.firstSeen[custodianID]
	if !ok {
		e.firstSeen[custodianID] = now
		return false, 0
	}
	held := now.Sub(first)
	return held >= e.params.SustainedMinDuration, held
}

// CheckBatch evaluates each custodian independently; one failure never
// blocks the rest.
func (e *Engine) CheckBatch(ctx context.Context, custodianIDs []string, reason domain.Reason) []BatchResult {
	out := make([]BatchResult, 0, len(custodianIDs))
	for _, id := range custodianIDs {
		v, err := e.Check(ctx, id, reason)
		res := BatchResult{CustodianID: id, Verdict: v}
		if err != nil {
			res.Err = err.Error()
		}
		out = append(out, res)
	}
	return out
}

// Enforce re-checks the reason and, when violated, requests the
// restricted UNDER_REVIEW transition. Permissionless: caller is recorded
// for transparency but needs no capability. Not-violated is a free
// no-op, never an error.
func (e *Engine) Enforce(ctx context.Context, caller, custodianID string, reason domain.Reason) (bool, Verdict, error) {
	v, err := e.Check(ctx, custodianID, reason)
	if err != nil {
		return false, Verdict{}, err
	}
	if !v.Violated {
		return false, v, nil
	}
	changed, err := e.custodians.MarkUnderReview(ctx, caller, custodianID, reason)
	if err != nil {
		return false, v, err
	}
	return changed, v, nil
}

// insufficientReserves applies reserve×100 < minted×ratioPct in big
// integers: satoshi amounts times percentages overflow uint64.
func insufficientReserves(balance, minted, ratioPct uint64) bool {
	if minted == 0 {
		return false
	}
	lhs := new(big.Int).Mul(new(big.Int).SetUint64(balance), big.NewInt(100))
	rhs := new(big.Int).Mul(new(big.Int).SetUint64(minted), new(big.Int).SetUint64(ratioPct))
	return lhs.Cmp(rhs) < 0
}
