package main

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/audit"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/authn"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/custody"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/domain"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/enforce"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/httpx"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/proof"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/reserve"
	"github.com/tlabs-xyz/tbtc-v2-sub010/services/custody/internal/store"
)

type server struct {
	registry *custody.Registry
	ledger   *reserve.Ledger
	engine   *enforce.Engine
	log      *audit.Log
	auth     authn.Authenticator
	store    *store.Store
	verifier proof.Verifier
}

// identity resolves the bearer credential when one is presented. It
// never rejects: permissionless endpoints accept anonymous callers, and
// capability-gated operations fail inside the core instead.
func (s *server) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get("Authorization"); h != "" {
			if id, err := s.auth.Authenticate(r.Context(), h); err == nil {
				r = r.WithContext(authn.WithIdentity(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) caller(r *http.Request) string {
	if id, ok := authn.IdentityFrom(r.Context()); ok {
		return id.CallerID
	}
	return ""
}

func (s *server) routes(api chi.Router) {
	api.Post("/custodians", s.handleRegister)

	api.Get("/custodians/{id}/status", s.handleStatus)
	api.Get("/custodians/{id}/can-accept", s.handleCanAccept)
	api.Get("/custodians/{id}/can-fulfill", s.handleCanFulfill)
	api.Get("/custodians/{id}/reserve", s.handleReserve)
	api.Get("/custodians/{id}/reserve/history", s.handleReserveHistory)
	api.Get("/custodians/{id}/events", s.handleEvents)

	api.Post("/custodians/{id}/attestations", s.handleSubmitAttestation)
	api.Post("/custodians/{id}/force-consensus", s.handleForceConsensus)

	api.Post("/custodians/{id}/pause", s.handlePause)
	api.Post("/custodians/{id}/resume", s.handleResume)
	api.Post("/custodians/{id}/escalation-check", s.handleCheckEscalation)
	api.Post("/custodians/{id}/defaults", s.handleReportDefault)
	api.Post("/custodians/{id}/review-decision", s.handleReviewDecision)

	api.Post("/custodians/{id}/mint", s.handleMint)
	api.Post("/custodians/{id}/redemption", s.handleRedemption)

	api.Get("/custodians/{id}/violations/{reason}", s.handleCheckViolation)
	api.Post("/custodians/{id}/violations/{reason}/enforce", s.handleEnforceViolation)
	api.Post("/violations/batch-check", s.handleBatchCheck)
}

// writeDomainError maps core sentinel errors onto symbolic HTTP codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		httpx.WriteError(w, http.StatusForbidden, "UNAUTHORIZED", err.Error(), nil)
	case errors.Is(err, domain.ErrUnknownCustodian):
		httpx.WriteError(w, http.StatusNotFound, "UNKNOWN_CUSTODIAN", err.Error(), nil)
	case errors.Is(err, domain.ErrDuplicateCustodian):
		httpx.WriteError(w, http.StatusConflict, "DUPLICATE_CUSTODIAN", err.Error(), nil)
	case errors.Is(err, domain.ErrNotObjectiveViolation):
		httpx.WriteError(w, http.StatusBadRequest, "NOT_OBJECTIVE_VIOLATION", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidPauseLevel):
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_PAUSE_LEVEL", err.Error(), nil)
	case errors.Is(err, domain.ErrRevoked):
		httpx.WriteError(w, http.StatusConflict, "REVOKED", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidTransition):
		httpx.WriteError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, domain.ErrInsufficientPauseCredit):
		httpx.WriteError(w, http.StatusConflict, "INSUFFICIENT_PAUSE_CREDIT", err.Error(), nil)
	case errors.Is(err, domain.ErrPauseExpired):
		httpx.WriteError(w, http.StatusConflict, "PAUSE_EXPIRED", err.Error(), nil)
	case errors.Is(err, domain.ErrCapacityExceeded):
		httpx.WriteError(w, http.StatusConflict, "CAPACITY_EXCEEDED", err.Error(), nil)
	case errors.Is(err, domain.ErrMintingNotAllowed):
		httpx.WriteError(w, http.StatusConflict, "MINTING_NOT_ALLOWED", err.Error(), nil)
	case errors.Is(err, domain.ErrFulfillmentNotAllowed):
		httpx.WriteError(w, http.StatusConflict, "FULFILLMENT_NOT_ALLOWED", err.Error(), nil)
	case errors.Is(err, domain.ErrRedemptionExceedsMinted):
		httpx.WriteError(w, http.StatusConflict, "REDEMPTION_EXCEEDS_MINTED", err.Error(), nil)
	case errors.Is(err, domain.ErrNotUnderReview):
		httpx.WriteError(w, http.StatusConflict, "NOT_UNDER_REVIEW", err.Error(), nil)
	case errors.Is(err, domain.ErrNoAttestations):
		httpx.WriteError(w, http.StatusConflict, "NO_ATTESTATIONS", err.Error(), nil)
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustodianID     string `json:"custodian_id"`
		MaxMintCapacity uint64 `json:"max_mint_capacity"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	if req.CustodianID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "MISSING_CUSTODIAN_ID", "custodian_id is required", nil)
		return
	}
	if err := s.registry.Register(r.Context(), s.caller(r), req.CustodianID, req.MaxMintCapacity); err != nil {
		writeDomainError(w, err)
		return
	}
	s.ledger.Track(req.CustodianID)
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"request_id":   httpx.NewRequestID(),
		"custodian_id": req.CustodianID,
		"status":       domain.StatusActive,
	})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.registry.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (s *server) handleCanAccept(w http.ResponseWriter, r *http.Request) {
	ok, err := s.registry.CanAcceptNewObligation(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"can_accept": ok})
}

func (s *server) handleCanFulfill(w http.ResponseWriter, r *http.Request) {
	ok, err := s.registry.CanFulfillObligation(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"can_fulfill": ok})
}

func (s *server) handleReserve(w http.ResponseWriter, r *http.Request) {
	balance, stale, err := s.ledger.Reserve(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"balance": balance, "stale": stale})
}

func (s *server) handleReserveHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.ledger.History(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"records": hist})
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"events": s.log.Events(chi.URLParam(r, "id")),
	})
}

func (s *server) handleSubmitAttestation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Balance uint64 `json:"balance"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	rec, reached, err := s.ledger.Submit(r.Context(), s.caller(r), chi.URLParam(r, "id"), req.Balance)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := map[string]any{"consensus": reached}
	if reached {
		resp["record"] = rec
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (s *server) handleForceConsensus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ledger.ForceConsensus(r.Context(), s.caller(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"record": rec})
}

func (s *server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level domain.PauseLevel `json:"level"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.registry.RequestSelfPause(r.Context(), s.caller(r), id, req.Level); err != nil {
		writeDomainError(w, err)
		return
	}
	status, _ := s.registry.Status(id)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (s *server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.RequestResume(r.Context(), s.caller(r), id); err != nil {
		writeDomainError(w, err)
		return
	}
	status, _ := s.registry.Status(id)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (s *server) handleCheckEscalation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	escalated, err := s.registry.CheckEscalation(r.Context(), httpx.CallerID(r, s.caller(r)), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status, _ := s.registry.Status(id)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"escalated": escalated, "status": status})
}

func (s *server) handleReportDefault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClaimedAmount uint64 `json:"claimed_amount"`
		Proof         string `json:"proof,omitempty"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	id := chi.URLParam(r, "id")

	// A fulfillment proof that verifies and covers the claim means there
	// is no default to record. Submitted proofs are never discarded: when
	// no verifier is configured the request fails rather than recording a
	// default against possibly exculpatory evidence.
	if req.Proof != "" {
		if s.verifier == nil {
			httpx.WriteError(w, http.StatusServiceUnavailable, "PROOF_VERIFICATION_DISABLED",
				"no proof verifier configured; resubmit without proof or configure trusted keys", nil)
			return
		}
		blob, err := base64.StdEncoding.DecodeString(req.Proof)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "BAD_PROOF_ENCODING", err.Error(), nil)
			return
		}
		v, err := s.verifier.VerifyPaymentProof(req.ClaimedAmount, blob)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "BAD_PROOF", err.Error(), nil)
			return
		}
		if v.Valid {
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"defaulted": false, "verification": v})
			return
		}
	}

	status, err := s.registry.ReportDefault(r.Context(), s.caller(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"defaulted": true, "status": status})
}

func (s *server) handleReviewDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reinstate bool `json:"reinstate"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.registry.ReviewDecision(r.Context(), s.caller(r), id, req.Reinstate); err != nil {
		writeDomainError(w, err)
		return
	}
	status, _ := s.registry.Status(id)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (s *server) handleMint(w http.ResponseWriter, r *http.Request) {
	s.handleSupply(w, r, s.registry.RecordMint)
}

func (s *server) handleRedemption(w http.ResponseWriter, r *http.Request) {
	s.handleSupply(w, r, s.registry.RecordRedemption)
}

func (s *server) handleSupply(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, caller, id string, amount uint64) error) {
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	id := chi.URLParam(r, "id")
	if err := apply(r.Context(), s.caller(r), id, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	minted, _ := s.registry.Minted(id)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"minted": minted})
}

func (s *server) handleCheckViolation(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.Check(r.Context(), chi.URLParam(r, "id"), domain.Reason(chi.URLParam(r, "reason")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"verdict": v})
}

func (s *server) handleEnforceViolation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	caller := httpx.CallerID(r, s.caller(r))
	enforced, v, err := s.engine.Enforce(r.Context(), caller, id, domain.Reason(chi.URLParam(r, "reason")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status, _ := s.registry.Status(id)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"enforced": enforced, "verdict": v, "status": status})
}

func (s *server) handleBatchCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustodianIDs []string      `json:"custodian_ids"`
		Reason       domain.Reason `json:"reason"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	if !req.Reason.Objective() {
		httpx.WriteError(w, http.StatusBadRequest, "NOT_OBJECTIVE_VIOLATION", "reason is not an objective violation", nil)
		return
	}
	results := s.engine.CheckBatch(r.Context(), req.CustodianIDs, req.Reason)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}
