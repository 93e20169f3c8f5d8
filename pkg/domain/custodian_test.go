package domain

import "testing"

func TestStatusObligationGating(t *testing.T) {
	cases := []struct {
		status     Status
		canAccept  bool
		canFulfill bool
	}{
		{StatusActive, true, true},
		{StatusMintingPaused, false, true},
		{StatusPaused, false, false},
		{StatusUnderReview, false, true},
		{StatusRevoked, false, false},
	}
	for _, tc := range cases {
		if got := tc.status.CanAcceptNewObligation(); got != tc.canAccept {
			t.Fatalf("%s CanAcceptNewObligation = %v, want %v", tc.status, got, tc.canAccept)
		}
		if got := tc.status.CanFulfillObligation(); got != tc.canFulfill {
			t.Fatalf("%s CanFulfillObligation = %v, want %v", tc.status, got, tc.canFulfill)
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusMintingPaused, StatusPaused, StatusUnderReview, StatusRevoked} {
		if !s.Valid() {
			t.Fatalf("expected %s to be valid", s)
		}
	}
	if Status("SUSPENDED").Valid() {
		t.Fatalf("unexpected valid status")
	}
	if !StatusRevoked.Terminal() || StatusPaused.Terminal() {
		t.Fatalf("terminal classification wrong")
	}
}

func TestReasonObjective(t *testing.T) {
	for _, r := range []Reason{ReasonInsufficientReserves, ReasonStaleAttestation, ReasonSustainedViolation} {
		if !r.Objective() {
			t.Fatalf("expected %s to be objective", r)
		}
	}
	if Reason("BAD_VIBES").Objective() {
		t.Fatalf("free-text reason must not be objective")
	}
}
