// Package custody owns the qualified-custodian lifecycle: the five-state
// machine, pause credits, graduated default consequences and minted
// supply accounting. All time rules are evaluated lazily against the
// injected clock; the registry never schedules anything itself.
package custody

import (
	"context"
	"sync"
	"time"

	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/audit"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/authn"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/domain"
)

// Registry is the owned collection of custodian records. Mutations are
// serialized per custodian id; operations on distinct custodians run
// concurrently.
type Registry struct {
	mu     sync.RWMutex
	recs   map[string]*record
	gate   authn.Gate
	log    *audit.Log
	params domain.Params
	now    func() time.Time
}

type record struct {
	mu sync.Mutex
	c  domain.Custodian
}

type Option func(*Registry)

// WithClock overrides the time source. Tests drive lifecycle deadlines
// through this.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(gate authn.Gate, log *audit.Log, params domain.Params, opts ...Option) *Registry {
	r := &Registry{
		recs:   map[string]*record{},
		gate:   gate,
		log:    log,
		params: params,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register creates a custodian in ACTIVE with one pause credit. Requires
// full authority. Records are never deleted.
func (r *Registry) Register(ctx context.Context, caller, id string, maxMintCapacity uint64) error {
	if !r.gate.HasCapability(ctx, caller, domain.CapGovern) {
		return domain.ErrUnauthorized
	}
	now := r.now()
	r.mu.Lock()
	if _, exists := r.recs[id]; exists {
		r.mu.Unlock()
		return domain.ErrDuplicateCustodian
	}
	r.recs[id] = &record{c: domain.Custodian{
		ID:              id,
		Status:          domain.StatusActive,
		MaxMintCapacity: maxMintCapacity,
		PauseCredits:    1,
		CreditRenewedAt: now,
		RegisteredAt:    now,
	}}
	r.mu.Unlock()

	r.log.Append(ctx, audit.Event{
		Kind:        audit.KindCustodianRegistered,
		CustodianID: id,
		New:         string(domain.StatusActive),
		Authority:   domain.AuthorityFull,
		Caller:      caller,
		Amount:      maxMintCapacity,
		At:          now,
	})
	return nil
}

func (r *Registry) get(id string) (*record, error) {
	r.mu.RLock()
	rec, ok := r.recs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrUnknownCustodian
	}
	return rec, nil
}

// Custodian returns a snapshot of the record.
func (r *Registry) Custodian(id string) (domain.Custodian, error) {
	rec, err := r.get(id)
	if err != nil {
		return domain.Custodian{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.c, nil
}

func (r *Registry) Status(id string) (domain.Status, error) {
	c, err := r.Custodian(id)
	if err != nil {
		return "", err
	}
	return c.Status, nil
}

func (r *Registry) CanAcceptNewObligation(id string) (bool, error) {
	s, err := r.Status(id)
	if err != nil {
		return false, err
	}
	return s.CanAcceptNewObligation(), nil
}

func (r *Registry) CanFulfillObligation(id string) (bool, error) {
	s, err := r.Status(id)
	if err != nil {
		return false, err
	}
	return s.CanFulfillObligation(), nil
}

// Minted returns the custodian's current minted amount; the enforcement
// engine reads it when evaluating collateral ratios.
func (r *Registry) Minted(id string) (uint64, error) {
	c, err := r.Custodian(id)
	if err != nil {
		return 0, err
	}
	return c.Minted, nil
}

// IDs lists all registered custodian ids; the watch driver uses it to
// fan out permissionless checks.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.recs))
	for id := range r.recs {
		out = append(out, id)
	}
	return out
}
