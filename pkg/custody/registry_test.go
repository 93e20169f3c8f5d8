package custody

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/audit"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/authn"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/domain"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestRegistry(t *testing.T) (*Registry, *fakeClock, *audit.Log) {
	t.Helper()
	gate := authn.NewStatic().
		Grant("governor", domain.CapGovern, domain.CapSupply).
		Grant("qc-1", domain.CapSelf).
		Grant("qc-2", domain.CapSelf)
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	log := audit.NewLog()
	r := NewRegistry(gate, log, domain.DefaultParams(), WithClock(clock.Now))
	return r, clock, log
}

func register(t *testing.T, r *Registry, id string, cap uint64) {
	t.Helper()
	require.NoError(t, r.Register(context.Background(), "governor", id, cap))
}

func TestRegisterInitialState(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	register(t, r, "qc-1", 1_000_000)

	c, err := r.Custodian("qc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, c.Status)
	assert.Equal(t, uint64(0), c.Minted)
	assert.Equal(t, 1, c.PauseCredits)
	assert.Equal(t, clock.Now(), c.RegisteredAt)

	assert.ErrorIs(t, r.Register(context.Background(), "governor", "qc-1", 1), domain.ErrDuplicateCustodian)
	assert.ErrorIs(t, r.Register(context.Background(), "nobody", "qc-9", 1), domain.ErrUnauthorized)
}

func TestUnknownCustodian(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.Status("ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownCustodian)
	_, err = r.CheckEscalation(context.Background(), "anyone", "ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownCustodian)
}

// Scenario C: one credit at registration; a second self-pause before the
// renewal interval fails with insufficient credit.
func TestSelfPauseConsumesCredit(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	register(t, r, "qc-1", 1_000_000)
	ctx := context.Background()

	require.NoError(t, r.RequestSelfPause(ctx, "qc-1", "qc-1", domain.PauseMinting))
	s, _ := r.Status("qc-1")
	assert.Equal(t, domain.StatusMintingPaused, s)

	require.NoError(t, r.RequestResume(ctx, "qc-1", "qc-1"))
	clock.Advance(24 * time.Hour)
	assert.ErrorIs(t, r.RequestSelfPause(ctx, "qc-1", "qc-1", domain.PauseMinting), domain.ErrInsufficientPauseCredit)

	// After the 90-day renewal the credit is back, capped at one.
	clock.Advance(90 * 24 * time.Hour)
	require.NoError(t, r.RequestSelfPause(ctx, "qc-1", "qc-1", domain.PauseMinting))
}

func TestCreditCapPreventsBanking(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	register(t, r, "qc-1", 1_000_000)
	ctx := context.Background()

	// Idle across three renewal intervals: still only one credit banked.
	clock.Advance(3 * 90 * 24 * time.Hour)
	require.NoError(t, r.RequestSelfPause(ctx, "qc-1", "qc-1", domain.PauseMinting))
	require.NoError(t, r.RequestResume(ctx, "qc-1", "qc-1"))
	assert.ErrorIs(t, r.RequestSelfPause(ctx, "qc-1", "qc-1", domain.PauseMinting), domain.ErrInsufficientPauseCredit)
}

func TestSelfPauseEscalationSameCreditCycle(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	register(t, r, "qc-1", 1_000_000)
	ctx := context.Background()

	require.NoError(t, r.RequestSelfPause(ctx, "qc-1", "qc-1", domain.PauseMinting))
	require.NoError(t, r.RequestSelfPause(ctx, "qc-1", "qc-1", domain.PauseFull))
	s, _ := r.Status("qc-1")
	assert.Equal(t, domain.StatusPaused, s)

	c, _ := r.Custodian("qc-1")
	assert.Equal(t, 0, c.PauseCredits, "escalation must not consume a second credit")
}

func TestSelfPauseAuthorization(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	register(t, r, "qc-1", 1_000_000)
	register(t, r, "qc-2", 1_000_000)
	ctx := context.Background()

	assert.ErrorIs(t, r.RequestSelfPause(ctx, "qc-2", "qc-1", domain.PauseMinting), domain.ErrUnauthorized)
	assert.ErrorIs(t, r.RequestSelfPause(ctx, "governor", "qc-1", domain.PauseMinting), domain.ErrUnauthorized)
	assert.ErrorIs(t, r.RequestSelfPause(ctx, "qc-1", "qc-1", domain.PauseLevel("HALF")), domain.ErrInvalidPauseLevel)
}

// Scenario D: paused 49 hours escalates to UNDER_REVIEW; at 47 hours the
// same call is a no-op. Repeated checks change nothing further.
func TestCheckEscalationDeadline(t *testing.T) {
	r, clock, log := newTestRegistry(t)
	register(t, r, "qc-1", 1_000_000)
	ctx := context.Background()

	require.NoError(t, r.RequestSelfPause(ctx, "qc-1", "qc-1", domain.PauseFull))

	clock.Advance(47 * time.Hour)
	escalated, err := r.CheckEscalation(ctx, "watcher", "qc-1")
	require.NoError(t, err)
	assert.False(t, escalated)
	s, _ := r.Status("qc-1")
	assert.Equal(t, domain.StatusPaused, s)

	clock.Advance(2 * time.Hour) // now 49h
	escalated, err = r.CheckEscalation(ctx, "watcher", "qc-1")
	require.NoError(t, err)
	assert.True(t, escalated)
	s, _ = r.Status("qc-1")
	assert.Equal(t, domain.StatusUnderReview, s)

	events := len(log.Events("qc-1"))
	escalated, err = r.CheckEscalation(ctx, "watcher", "qc-1")
	require.NoError(t, err)
	assert.False(t, escalated, "second check must be a no-op")
	assert.Equal(t, events, len(log.Events("qc-1")), "no-op must not append events")
}

func TestEscalationBoundaryIsNotLate(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	register(t, r, "qc-1", 1_000_000)
	ctx := context.Background()

	require.NoError(t, r.RequestSelfPause(ctx, "qc-1", "qc-1", domain.PauseFull))
	clock.Advance(48 * time.Hour)
	escalated, err := r.CheckEscalation(ctx, "watcher", "qc-1")
	require.NoError(t, err)
	assert.False(t, escalated, "exactly at the deadline is not yet late")
}

func TestResumeBeforeAndAfterDeadline(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	register(t, r, "qc-1", 1_000_000)
	ctx := context.Background()

	require.NoError(t, r.RequestSelfPause(ctx, "qc-1", "qc-1", domain.PauseFull))
	clock.Advance(47 * time.Hour)
	require.NoError(t, r.RequestResume(ctx, "qc-1", "qc-1"))
	s, _ := r.Status("qc-1")
	assert.Equal(t, domain.StatusActive, s)

	// Pause again (credit renewed only after 90 days, so force via governor).
	require.NoError(t, r.ForceTransition(ctx, "governor", "qc-1", domain.StatusPaused))
	clock.Advance(49 * time.Hour)
	assert.ErrorIs(t, r.RequestResume(ctx, "qc-1", "qc-1"), domain.ErrPauseExpired)
	s, _ = r.Status("qc-1")
	assert.Equal(t, domain.StatusPaused, s, "failed resume must not mutate")
}

// Scenario E: graduated defaults within the penalty window.
func TestGraduatedDefaults(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	register(t, r, "qc-1", 1_000_000)
	ctx := context.Background()

	s, err := r.ReportDefault(ctx, "governor", "qc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMintingPaused, s)

	clock.Advance(30 * 24 * time.Hour) // within 90d window
	s, err = r.ReportDefault(ctx, "governor", "qc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderReview, s)

	clock.Advance(200 * 24 * time.Hour) // any elapsed time
	s, err = r.ReportDefault(ctx, "governor", "qc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRevoked, s)

	_, err = r.ReportDefault(ctx, "governor", "qc-1")
	assert.ErrorIs(t, err, domain.ErrRevoked)
}

func TestDefaultStreakResetsOutsideWindow(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	register(t, r, "qc-1", 1_000_000)
	ctx := context.Background()

	s, err := r.ReportDefault(ctx, "governor", "qc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMintingPaused, s)

	clock.Advance(91 * 24 * time.Hour) // outside the window: streak resets
	s, err = r.ReportDefault(ctx, "governor", "qc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMintingPaused, s, "custodian stays at MINTING_PAUSED when streak resets")

	c, _ := r.Custodian("qc-1")
	assert.Equal(t, 2, c.Defaults.Total)
	assert.Equal(t, 1, c.Defaults.Consecutive)
}

func TestDefaultWhilePausedAggravates(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	register(t, r, "qc-1", 1_000_000)
	ctx := context.Background()

	require.NoError(t, r.RequestSelfPause(ctx, "qc-1", "qc-1", domain.PauseFull))
	s, err := r.ReportDefault(ctx, "governor", "qc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderReview, s)
}

func TestThirdConsecutiveDefaultRevokesFromAnyState(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	register(t, r, "qc-1", 1_000_000)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := r.ReportDefault(ctx, "governor", "qc-1")
		require.NoError(t, err)
		clock.Advance(24 * time.Hour)
	}
	// Reinstate: full authority pulls the custodian back to ACTIVE.
	require.NoError(t, r.ReviewDecision(ctx, "governor", "qc-1", true))

	s, err := r.ReportDefault(ctx, "governor", "qc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRevoked, s, "third default in the streak revokes regardless of state")
}

func TestRevokedIsTerminal(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	register(t, r, "qc-1", 1_000_000)
	ctx := context.Background()

	require.NoError(t, r.ForceTransition(ctx, "governor", "qc-1", domain.StatusRevoked))

	assert.ErrorIs(t, r.ForceTransition(ctx, "governor", "qc-1", domain.StatusActive), domain.ErrRevoked)
	assert.ErrorIs(t, r.RequestSelfPause(ctx, "qc-1", "qc-1", domain.PauseMinting), domain.ErrRevoked)
	assert.ErrorIs(t, r.RequestResume(ctx, "qc-1", "qc-1"), domain.ErrRevoked)
	assert.ErrorIs(t, r.ReviewDecision(ctx, "governor", "qc-1", true), domain.ErrRevoked)

	changed, err := r.MarkUnderReview(ctx, "anyone", "qc-1", domain.ReasonStaleAttestation)
	require.NoError(t, err)
	assert.False(t, changed)

	accept, _ := r.CanAcceptNewObligation("qc-1")
	fulfill, _ := r.CanFulfillObligation("qc-1")
	assert.False(t, accept)
	assert.False(t, fulfill)
}

func TestReviewDecisionPaths(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	register(t, r, "qc-1", 1_000_000)
	ctx := context.Background()

	assert.ErrorIs(t, r.ReviewDecision(ctx, "governor", "qc-1", true), domain.ErrNotUnderReview)

	_, err := r.MarkUnderReview(ctx, "watcher", "qc-1", domain.ReasonInsufficientReserves)
	require.NoError(t, err)
	assert.ErrorIs(t, r.ReviewDecision(ctx, "watcher", "qc-1", true), domain.ErrUnauthorized)

	require.NoError(t, r.ReviewDecision(ctx, "governor", "qc-1", true))
	s, _ := r.Status("qc-1")
	assert.Equal(t, domain.StatusActive, s)
}

func TestMarkUnderReviewIsIdempotent(t *testing.T) {
	r, _, log := newTestRegistry(t)
	register(t, r, "qc-1", 1_000_000)
	ctx := context.Background()

	changed, err := r.MarkUnderReview(ctx, "watcher", "qc-1", domain.ReasonInsufficientReserves)
	require.NoError(t, err)
	assert.True(t, changed)

	before := len(log.Events("qc-1"))
	changed, err = r.MarkUnderReview(ctx, "watcher", "qc-1", domain.ReasonInsufficientReserves)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, before, len(log.Events("qc-1")))
}

func TestMintedNeverExceedsCapacity(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	register(t, r, "qc-1", 1000)
	ctx := context.Background()

	require.NoError(t, r.RecordMint(ctx, "governor", "qc-1", 600))
	assert.ErrorIs(t, r.RecordMint(ctx, "governor", "qc-1", 500), domain.ErrCapacityExceeded)
	require.NoError(t, r.RecordMint(ctx, "governor", "qc-1", 400))

	minted, err := r.Minted("qc-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), minted)

	assert.ErrorIs(t, r.RecordMint(ctx, "governor", "qc-1", 1), domain.ErrCapacityExceeded)
}

func TestMintingGatedByStatus(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	register(t, r, "qc-1", 1000)
	ctx := context.Background()

	require.NoError(t, r.RecordMint(ctx, "governor", "qc-1", 500))
	require.NoError(t, r.RequestSelfPause(ctx, "qc-1", "qc-1", domain.PauseMinting))

	assert.ErrorIs(t, r.RecordMint(ctx, "governor", "qc-1", 100), domain.ErrMintingNotAllowed)
	// Redemptions still flow while minting is paused.
	require.NoError(t, r.RecordRedemption(ctx, "governor", "qc-1", 200))

	require.NoError(t, r.RequestSelfPause(ctx, "qc-1", "qc-1", domain.PauseFull))
	assert.ErrorIs(t, r.RecordRedemption(ctx, "governor", "qc-1", 100), domain.ErrFulfillmentNotAllowed)

	assert.ErrorIs(t, r.RecordRedemption(ctx, "nobody", "qc-1", 100), domain.ErrUnauthorized)
}

func TestRedemptionCannotExceedMinted(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	register(t, r, "qc-1", 1000)
	ctx := context.Background()

	require.NoError(t, r.RecordMint(ctx, "governor", "qc-1", 300))
	assert.ErrorIs(t, r.RecordRedemption(ctx, "governor", "qc-1", 301), domain.ErrRedemptionExceedsMinted)
}
