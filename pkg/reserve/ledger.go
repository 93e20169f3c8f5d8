// Package reserve derives trusted collateral balances from independent
// attester claims. Individual attestations are transient; only quorum
// consensus values enter the append-only history.
package reserve

import (
	"context"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/audit"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/authn"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/domain"
)

// Record is one consensus reserve value. History is immutable once
// appended; the current value is the latest valid record.
type Record struct {
	Balance       uint64    `json:"balance"`
	At            time.Time `json:"at"`
	Seq           uint64    `json:"seq"`
	AttesterCount int       `json:"attester_count"`
	Valid         bool      `json:"valid"`
	Forced        bool      `json:"forced,omitempty"`
}

type attestation struct {
	balance uint64
	at      time.Time
}

type state struct {
	mu      sync.Mutex
	buf     map[string]attestation
	history []Record
}

// Ledger holds the per-custodian attestation buffers and consensus
// histories. Mutations are serialized per custodian.
type Ledger struct {
	mu     sync.RWMutex
	states map[string]*state
	gate   authn.Gate
	log    *audit.Log
	params domain.Params
	now    func() time.Time
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(gate authn.Gate, log *audit.Log, params domain.Params, opts ...Option) *Ledger {
	l := &Ledger{
		states: map[string]*state{},
		gate:   gate,
		log:    log,
		params: params,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Track starts attestation collection for a custodian. Called once at
// registration; submissions for untracked custodians fail.
func (l *Ledger) Track(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.states[id]; !ok {
		l.states[id] = &state{buf: map[string]attestation{}}
	}
}

func (l *Ledger) get(id string) (*state, error) {
	l.mu.RLock()
	st, ok := l.states[id]
	l.mu.RUnlock()
	if !ok {
		return nil, domain.ErrUnknownCustodian
	}
	return st, nil
}

// pruneLocked drops attestations older than the window. st.mu held.
func (l *Ledger) pruneLocked(st *state, now time.Time) {
	for attester, a := range st.buf {
		if now.Sub(a.at) > l.params.AttestationWindow {
			delete(st.buf, attester)
		}
	}
}

// Submit buffers one attester's balance claim and attempts consensus.
// Returns the new record and true when quorum consensus was reached.
// Otherwise the claim stays buffered and reached is false; waiting for
// quorum is not an error.
func (l *Ledger) Submit(ctx context.Context, attesterID, custodianID string, balance uint64) (Record, bool, error) {
	if !l.gate.HasCapability(ctx, attesterID, domain.CapAttest) {
		return Record{}, false, domain.ErrUnauthorized
	}
	st, err := l.get(custodianID)
	if err != nil {
		return Record{}, false, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	now := l.now()

	l.pruneLocked(st, now)
	st.buf[attesterID] = attestation{balance: balance, at: now}

	if len(st.buf) < l.params.MinAttesters {
		return Record{}, false, nil
	}

	balances := make([]uint64, 0, len(st.buf))
	for _, a := range st.buf {
		balances = append(balances, a.balance)
	}
	median := medianOf(balances)
	if !withinTolerance(balances, median, l.params.DeviationTolerancePct) {
		return Record{}, false, nil
	}

	rec := l.appendLocked(ctx, st, custodianID, median, len(balances), false, "attester:"+attesterID, now)
	return rec, true, nil
}

// ForceConsensus lets full authority derive a value from fewer than the
// minimum attesters (at least one). Deadlock-breaking path for recovering
// a custodian whose normal consensus has been unreachable.
func (l *Ledger) ForceConsensus(ctx context.Context, caller, custodianID string) (Record, error) {
	if !l.gate.HasCapability(ctx, caller, domain.CapGovern) {
		return Record{}, domain.ErrUnauthorized
	}
	st, err := l.get(custodianID)
	if err != nil {
		return Record{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	now := l.now()

	l.pruneLocked(st, now)
	if len(st.buf) == 0 {
		return Record{}, domain.ErrNoAttestations
	}
	balances := make([]uint64, 0, len(st.buf))
	for _, a := range st.buf {
		balances = append(balances, a.balance)
	}
	rec := l.appendLocked(ctx, st, custodianID, medianOf(balances), len(balances), true, caller, now)
	return rec, nil
}

// appendLocked appends a consensus record, clears the transient buffer
// and emits the audit event. st.mu held.
func (l *Ledger) appendLocked(ctx context.Context, st *state, custodianID string, balance uint64, attesters int, forced bool, caller string, now time.Time) Record {
	rec := Record{
		Balance:       balance,
		At:            now,
		Seq:           uint64(len(st.history) + 1),
		AttesterCount: attesters,
		Valid:         true,
		Forced:        forced,
	}
	st.history = append(st.history, rec)
	st.buf = map[string]attestation{}

	kind := audit.KindConsensusReached
	authority := domain.AuthoritySystem
	if forced {
		kind = audit.KindConsensusForced
		authority = domain.AuthorityFull
	}
	l.log.Append(ctx, audit.Event{
		Kind:        kind,
		CustodianID: custodianID,
		New:         strconv.FormatUint(balance, 10),
		Authority:   authority,
		Caller:      caller,
		Amount:      balance,
		At:          now,
	})
	return rec
}

// Reserve returns the current consensus balance and whether it is stale.
// Staleness is evaluated at read time: older than the threshold, with the
// exact boundary still fresh. A custodian with no consensus record yet
// reports (0, stale).
func (l *Ledger) Reserve(id string) (uint64, bool, error) {
	rec, ok, err := l.Current(id)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, true, nil
	}
	return rec.Balance, l.now().Sub(rec.At) > l.params.StaleThreshold, nil
}

// Current returns the latest valid record, if any.
func (l *Ledger) Current(id string) (Record, bool, error) {
	st, err := l.get(id)
	if err != nil {
		return Record{}, false, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for i := len(st.history) - 1; i >= 0; i-- {
		if st.history[i].Valid {
			return st.history[i], true, nil
		}
	}
	return Record{}, false, nil
}

// History returns a copy of the append-only record sequence.
func (l *Ledger) History(id string) ([]Record, error) {
	st, err := l.get(id)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Record, len(st.history))
	copy(out, st.history)
	return out, nil
}

// PendingAttestations reports how many claims are currently buffered,
// after expiry pruning. Informational only.
func (l *Ledger) PendingAttestations(id string) (int, error) {
	st, err := l.get(id)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	l.pruneLocked(st, l.now())
	return len(st.buf), nil
}

// medianOf returns the median claim; for even counts the mean of the two
// middle values, rounded down.
func medianOf(balances []uint64) uint64 {
	sorted := make([]uint64, len(balances))
	copy(sorted, balances)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	lo, hi := sorted[n/2-1], sorted[n/2]
	return lo + (hi-lo)/2
}

// withinTolerance checks that every claim lies within tolPct percent of
// the median. A zero median only tolerates all-zero claims. The compare
// runs in big integers: satoshi deviations times 100 overflow uint64.
func withinTolerance(balances []uint64, median, tolPct uint64) bool {
	limit := new(big.Int).Mul(new(big.Int).SetUint64(median), new(big.Int).SetUint64(tolPct))
	for _, b := range balances {
		var dev uint64
		if b > median {
			dev = b - median
		} else {
			dev = median - b
		}
		scaled := new(big.Int).Mul(new(big.Int).SetUint64(dev), big.NewInt(100))
		if scaled.Cmp(limit) > 0 {
			return false
		}
	}
	return true
}
