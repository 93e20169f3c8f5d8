package custody

import (
	"context"

	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/audit"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/domain"
)

// RecordMint accounts newly minted supply against the custodian. Minting
// is a new obligation: only ACTIVE custodians accept it, and the minted
// amount never exceeds capacity.
func (r *Registry) RecordMint(ctx context.Context, caller, id string, amount uint64) error {
	if !r.gate.HasCapability(ctx, caller, domain.CapSupply) {
		return domain.ErrUnauthorized
	}
	rec, err := r.get(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.c.Status.CanAcceptNewObligation() {
		return domain.ErrMintingNotAllowed
	}
	if amount > rec.c.MaxMintCapacity-rec.c.Minted {
		return domain.ErrCapacityExceeded
	}
	rec.c.Minted += amount

	r.log.Append(ctx, audit.Event{
		Kind:        audit.KindMintRecorded,
		CustodianID: id,
		Authority:   domain.AuthorityFull,
		Caller:      caller,
		Amount:      amount,
		At:          r.now(),
	})
	return nil
}

// RecordRedemption accounts fulfilled redemptions, reducing minted
// supply. Allowed in every status that preserves fulfillment.
func (r *Registry) RecordRedemption(ctx context.Context, caller, id string, amount uint64) error {
	if !r.gate.HasCapability(ctx, caller, domain.CapSupply) {
		return domain.ErrUnauthorized
	}
	rec, err := r.get(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.c.Status.CanFulfillObligation() {
		return domain.ErrFulfillmentNotAllowed
	}
	if amount > rec.c.Minted {
		return domain.ErrRedemptionExceedsMinted
	}
	rec.c.Minted -= amount

	r.log.Append(ctx, audit.Event{
		Kind:        audit.KindRedemptionRecorded,
		CustodianID: id,
		Authority:   domain.AuthorityFull,
		Caller:      caller,
		Amount:      amount,
		At:          r.now(),
	})
	return nil
}
