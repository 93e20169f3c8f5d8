package custody

import (
	"context"
	"time"

	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/audit"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/domain"
)

// allowedEdges is the complete transition relation. Anything absent is an
// invariant violation; REVOKED has no outgoing edges.
var allowedEdges = map[domain.Status][]domain.Status{
	domain.StatusActive:        {domain.StatusMintingPaused, domain.StatusPaused, domain.StatusUnderReview, domain.StatusRevoked},
	domain.StatusMintingPaused: {domain.StatusActive, domain.StatusPaused, domain.StatusUnderReview, domain.StatusRevoked},
	domain.StatusPaused:        {domain.StatusActive, domain.StatusUnderReview, domain.StatusRevoked},
	domain.StatusUnderReview:   {domain.StatusActive, domain.StatusRevoked},
	domain.StatusRevoked:       {},
}

func edgeAllowed(from, to domain.Status) bool {
	for _, s := range allowedEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition applies an already-authorized status change while rec.mu is
// held, and appends the audit event. kind defaults to STATUS_CHANGED.
func (r *Registry) transition(ctx context.Context, rec *record, to domain.Status, kind audit.Kind, authority domain.Authority, caller, reason string, at time.Time) error {
	if rec.c.Status == domain.StatusRevoked {
		return domain.ErrRevoked
	}
	if !edgeAllowed(rec.c.Status, to) {
		return domain.ErrInvalidTransition
	}
	old := rec.c.Status
	rec.c.Status = to
	if to == domain.StatusPaused {
		rec.c.PausedAt = at
	} else {
		rec.c.PausedAt = time.Time{}
	}
	if kind == "" {
		kind = audit.KindStatusChanged
	}
	r.log.Append(ctx, audit.Event{
		Kind:        kind,
		CustodianID: rec.c.ID,
		Old:         string(old),
		New:         string(to),
		Authority:   authority,
		Caller:      caller,
		Reason:      reason,
		At:          at,
	})
	return nil
}

// renewCredits lazily tops pause credits up to the cap. The renewal
// anchor advances by whole intervals so the schedule never drifts.
func (r *Registry) renewCredits(c *domain.Custodian, now time.Time) {
	interval := r.params.CreditRenewalInterval
	if interval <= 0 {
		return
	}
	elapsed := now.Sub(c.CreditRenewedAt)
	if elapsed < interval {
		return
	}
	grants := int(elapsed / interval)
	c.CreditRenewedAt = c.CreditRenewedAt.Add(time.Duration(grants) * interval)
	c.PauseCredits += grants
	if c.PauseCredits > r.params.CreditCap {
		c.PauseCredits = r.params.CreditCap
	}
}

// RequestSelfPause lets a custodian pause itself. Entering a pause from
// ACTIVE consumes one credit; escalating MINTING_PAUSED to PAUSED stays
// on the same credit cycle and consumes nothing.
func (r *Registry) RequestSelfPause(ctx context.Context, caller, id string, level domain.PauseLevel) error {
	if !level.Valid() {
		return domain.ErrInvalidPauseLevel
	}
	if caller != id || !r.gate.HasCapability(ctx, caller, domain.CapSelf) {
		return domain.ErrUnauthorized
	}
	rec, err := r.get(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	now := r.now()

	target := domain.StatusMintingPaused
	if level == domain.PauseFull {
		target = domain.StatusPaused
	}

	switch rec.c.Status {
	case domain.StatusActive:
		r.renewCredits(&rec.c, now)
		if rec.c.PauseCredits < 1 {
			return domain.ErrInsufficientPauseCredit
		}
		if err := r.transition(ctx, rec, target, "", domain.AuthoritySelf, caller, "SELF_PAUSE", now); err != nil {
			return err
		}
		rec.c.PauseCredits--
		rec.c.LastSelfPauseAt = now
		return nil
	case domain.StatusMintingPaused:
		if target != domain.StatusPaused {
			return domain.ErrInvalidTransition
		}
		return r.transition(ctx, rec, domain.StatusPaused, "", domain.AuthoritySelf, caller, "SELF_PAUSE_ESCALATION", now)
	case domain.StatusRevoked:
		return domain.ErrRevoked
	default:
		return domain.ErrInvalidTransition
	}
}

// RequestResume returns a self-paused custodian to ACTIVE. A custodian
// whose full pause has outlived the escalation deadline cannot resume;
// only CheckEscalation moves it on, keeping all time-driven mutation on
// the explicit check path.
func (r *Registry) RequestResume(ctx context.Context, caller, id string) error {
	if caller != id || !r.gate.HasCapability(ctx, caller, domain.CapSelf) {
		return domain.ErrUnauthorized
	}
	rec, err := r.get(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	now := r.now()

	switch rec.c.Status {
	case domain.StatusMintingPaused:
		return r.transition(ctx, rec, domain.StatusActive, "", domain.AuthoritySelf, caller, "SELF_RESUME", now)
	case domain.StatusPaused:
		if now.Sub(rec.c.PausedAt) > r.params.EscalationDelay {
			return domain.ErrPauseExpired
		}
		return r.transition(ctx, rec, domain.StatusActive, "", domain.AuthoritySelf, caller, "SELF_RESUME", now)
	case domain.StatusRevoked:
		return domain.ErrRevoked
	default:
		return domain.ErrInvalidTransition
	}
}

// CheckEscalation is the permissionless pull check: a custodian PAUSED
// past the escalation deadline moves to UNDER_REVIEW. A no-op before the
// deadline or in any other state; idempotent throughout.
func (r *Registry) CheckEscalation(ctx context.Context, caller, id string) (bool, error) {
	rec, err := r.get(id)
	if err != nil {
		return false, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	now := r.now()

	if rec.c.Status != domain.StatusPaused {
		return false, nil
	}
	if now.Sub(rec.c.PausedAt) <= r.params.EscalationDelay {
		return false, nil
	}
	if err := r.transition(ctx, rec, domain.StatusUnderReview, "", domain.AuthoritySystem, caller, "PAUSE_ESCALATION_DEADLINE", now); err != nil {
		return false, err
	}
	return true, nil
}

// ReviewDecision resolves UNDER_REVIEW. Full authority only; reinstate
// returns the custodian to ACTIVE, otherwise it is revoked permanently.
func (r *Registry) ReviewDecision(ctx context.Context, caller, id string, reinstate bool) error {
	if !r.gate.HasCapability(ctx, caller, domain.CapGovern) {
		return domain.ErrUnauthorized
	}
	rec, err := r.get(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	now := r.now()

	if rec.c.Status == domain.StatusRevoked {
		return domain.ErrRevoked
	}
	if rec.c.Status != domain.StatusUnderReview {
		return domain.ErrNotUnderReview
	}
	target := domain.StatusRevoked
	reason := "REVIEW_REVOKED"
	if reinstate {
		target = domain.StatusActive
		reason = "REVIEW_REINSTATED"
	}
	return r.transition(ctx, rec, target, "", domain.AuthorityFull, caller, reason, now)
}

// ForceTransition executes any edge in the allowed set. Full authority
// only; this is the manual override path, including the enforcement
// engine's Active→MintingPaused soft brake when operated by a human.
func (r *Registry) ForceTransition(ctx context.Context, caller, id string, to domain.Status) error {
	if !r.gate.HasCapability(ctx, caller, domain.CapGovern) {
		return domain.ErrUnauthorized
	}
	if !to.Valid() {
		return domain.ErrInvalidTransition
	}
	rec, err := r.get(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return r.transition(ctx, rec, to, "", domain.AuthorityFull, caller, "FORCED", r.now())
}

// MarkUnderReview is the restricted-authority entry point used by the
// violation enforcement engine. It can only ever drive a custodian into
// UNDER_REVIEW, bounding the blast radius of permissionless enforcement.
// Returns false without error when the custodian is already UNDER_REVIEW
// or REVOKED, so repeated enforcement is a no-op.
func (r *Registry) MarkUnderReview(ctx context.Context, caller, id string, reason domain.Reason) (bool, error) {
	rec, err := r.get(id)
	if err != nil {
		return false, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch rec.c.Status {
	case domain.StatusUnderReview, domain.StatusRevoked:
		return false, nil
	}
	if err := r.transition(ctx, rec, domain.StatusUnderReview, audit.KindViolationEnforced, domain.AuthorityRestricted, caller, string(reason), r.now()); err != nil {
		return false, err
	}
	return true, nil
}
