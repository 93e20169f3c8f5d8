package custody

import (
	"context"

	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/audit"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/domain"
)

// ReportDefault records a confirmed redemption default and applies the
// graduated consequence. Full authority confirms defaults (the proof
// collaborator decides validity upstream). The consecutive streak counts
// defaults spaced at most one penalty window apart, measured from the
// previous default; a third qualifying default revokes from any state.
func (r *Registry) ReportDefault(ctx context.Context, caller, id string) (domain.Status, error) {
	if !r.gate.HasCapability(ctx, caller, domain.CapGovern) {
		return "", domain.ErrUnauthorized
	}
	rec, err := r.get(id)
	if err != nil {
		return "", err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	now := r.now()

	if rec.c.Status == domain.StatusRevoked {
		return domain.StatusRevoked, domain.ErrRevoked
	}

	h := &rec.c.Defaults
	withinWindow := !h.LastAt.IsZero() && now.Sub(h.LastAt) <= r.params.PenaltyWindow
	if withinWindow {
		h.Consecutive++
	} else {
		h.Consecutive = 1
	}
	h.Total++
	h.LastAt = now
	if rec.c.Status == domain.StatusUnderReview {
		h.WhileUnderReview++
	}

	r.log.Append(ctx, audit.Event{
		Kind:        audit.KindDefaultRecorded,
		CustodianID: id,
		New:         string(rec.c.Status),
		Authority:   domain.AuthorityFull,
		Caller:      caller,
		Reason:      "REDEMPTION_DEFAULT",
		Amount:      uint64(h.Consecutive),
		At:          now,
	})

	target := rec.c.Status
	switch {
	case h.Consecutive >= 3:
		target = domain.StatusRevoked
	default:
		switch rec.c.Status {
		case domain.StatusActive:
			target = domain.StatusMintingPaused
		case domain.StatusMintingPaused:
			if withinWindow {
				target = domain.StatusUnderReview
			}
			// Outside the window the streak reset above; the custodian
			// stays at MINTING_PAUSED.
		case domain.StatusPaused:
			// A default while in full maintenance is an aggravating signal.
			target = domain.StatusUnderReview
		case domain.StatusUnderReview:
			target = domain.StatusRevoked
		}
	}

	if target != rec.c.Status {
		if err := r.transition(ctx, rec, target, "", domain.AuthorityFull, caller, "GRADUATED_DEFAULT", now); err != nil {
			return rec.c.Status, err
		}
	}
	return rec.c.Status, nil
}
