package domain

// Reason is a machine-checkable violation condition. The enumeration is
// closed: enforcement rejects anything outside it, so every reason can be
// evaluated deterministically with no free-text judgment.
type Reason string

const (
	ReasonInsufficientReserves Reason = "INSUFFICIENT_RESERVES"
	ReasonStaleAttestation     Reason = "STALE_ATTESTATION"
	ReasonSustainedViolation   Reason = "SUSTAINED_VIOLATION"
)

func (r Reason) Objective() bool {
	switch r {
	case ReasonInsufficientReserves, ReasonStaleAttestation, ReasonSustainedViolation:
		return true
	}
	return false
}

// Authority identifies which class of actor drove a state change.
// Restricted authority may only move a custodian into UNDER_REVIEW.
type Authority string

const (
	AuthorityFull       Authority = "FULL"
	AuthorityRestricted Authority = "RESTRICTED"
	AuthoritySelf       Authority = "SELF"
	AuthoritySystem     Authority = "SYSTEM"
)

// Capability identifiers consumed through the capability gate.
type Capability string

const (
	CapAttest  Capability = "custody.attestations:submit"
	CapGovern  Capability = "custody.custodians:govern"
	CapSelf    Capability = "custody.self:manage"
	CapSupply  Capability = "custody.supply:update"
)
