// Package custodyclient is a typed HTTP client for the custody service.
// Every method maps onto one service endpoint and returns the same
// domain types the service serializes.
package custodyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/audit"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/domain"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/enforce"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/reserve"
)

type Client struct {
	BaseURL    string
	Bearer     string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError is the decoded service error envelope.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("custody service: %s (%d %s)", e.Message, e.Status, e.Code)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error APIError `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return &APIError{Status: resp.StatusCode, Code: "UNPARSEABLE", Message: err.Error()}
		}
		envelope.Error.Status = resp.StatusCode
		return &envelope.Error
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Register(ctx context.Context, id string, maxMintCapacity uint64) error {
	body := map[string]any{"custodian_id": id, "max_mint_capacity": maxMintCapacity}
	return c.do(ctx, http.MethodPost, "/custody/custodians", body, nil)
}

func (c *Client) Status(ctx context.Context, id string) (domain.Status, error) {
	var out struct {
		Status domain.Status `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, "/custody/custodians/"+id+"/status", nil, &out)
	return out.Status, err
}

func (c *Client) CanAcceptNewObligation(ctx context.Context, id string) (bool, error) {
	var out struct {
		CanAccept bool `json:"can_accept"`
	}
	err := c.do(ctx, http.MethodGet, "/custody/custodians/"+id+"/can-accept", nil, &out)
	return out.CanAccept, err
}

func (c *Client) CanFulfillObligation(ctx context.Context, id string) (bool, error) {
	var out struct {
		CanFulfill bool `json:"can_fulfill"`
	}
	err := c.do(ctx, http.MethodGet, "/custody/custodians/"+id+"/can-fulfill", nil, &out)
	return out.CanFulfill, err
}

func (c *Client) Reserve(ctx context.Context, id string) (balance uint64, stale bool, err error) {
	var out struct {
		Balance uint64 `json:"balance"`
		Stale   bool   `json:"stale"`
	}
	err = c.do(ctx, http.MethodGet, "/custody/custodians/"+id+"/reserve", nil, &out)
	return out.Balance, out.Stale, err
}

func (c *Client) SubmitAttestation(ctx context.Context, id string, balance uint64) (reserve.Record, bool, error) {
	var out struct {
		Consensus bool           `json:"consensus"`
		Record    reserve.Record `json:"record"`
	}
	err := c.do(ctx, http.MethodPost, "/custody/custodians/"+id+"/attestations",
		map[string]any{"balance": balance}, &out)
	return out.Record, out.Consensus, err
}

func (c *Client) ForceConsensus(ctx context.Context, id string) (reserve.Record, error) {
	var out struct {
		Record reserve.Record `json:"record"`
	}
	err := c.do(ctx, http.MethodPost, "/custody/custodians/"+id+"/force-consensus", nil, &out)
	return out.Record, err
}

func (c *Client) RequestSelfPause(ctx context.Context, id string, level domain.PauseLevel) (domain.Status, error) {
	var out struct {
		Status domain.Status `json:"status"`
	}
	err := c.do(ctx, http.MethodPost, "/custody/custodians/"+id+"/pause",
		map[string]any{"level": level}, &out)
	return out.Status, err
}

func (c *Client) RequestResume(ctx context.Context, id string) (domain.Status, error) {
	var out struct {
		Status domain.Status `json:"status"`
	}
	err := c.do(ctx, http.MethodPost, "/custody/custodians/"+id+"/resume", map[string]any{}, &out)
	return out.Status, err
}

func (c *Client) CheckEscalation(ctx context.Context, id string) (bool, domain.Status, error) {
	var out struct {
		Escalated bool          `json:"escalated"`
		Status    domain.Status `json:"status"`
	}
	err := c.do(ctx, http.MethodPost, "/custody/custodians/"+id+"/escalation-check", nil, &out)
	return out.Escalated, out.Status, err
}

func (c *Client) ReportDefault(ctx context.Context, id string, claimedAmount uint64, proofBlob string) (bool, domain.Status, error) {
	body := map[string]any{"claimed_amount": claimedAmount}
	if proofBlob != "" {
		body["proof"] = proofBlob
	}
	var out struct {
		Defaulted bool          `json:"defaulted"`
		Status    domain.Status `json:"status"`
	}
	err := c.do(ctx, http.MethodPost, "/custody/custodians/"+id+"/defaults", body, &out)
	return out.Defaulted, out.Status, err
}

func (c *Client) ReviewDecision(ctx context.Context, id string, reinstate bool) (domain.Status, error) {
	var out struct {
		Status domain.Status `json:"status"`
	}
	err := c.do(ctx, http.MethodPost, "/custody/custodians/"+id+"/review-decision",
		map[string]any{"reinstate": reinstate}, &out)
	return out.Status, err
}

func (c *Client) RecordMint(ctx context.Context, id string, amount uint64) (uint64, error) {
	var out struct {
		Minted uint64 `json:"minted"`
	}
	err := c.do(ctx, http.MethodPost, "/custody/custodians/"+id+"/mint",
		map[string]any{"amount": amount}, &out)
	return out.Minted, err
}

func (c *Client) RecordRedemption(ctx context.Context, id string, amount uint64) (uint64, error) {
	var out struct {
		Minted uint64 `json:"minted"`
	}
	err := c.do(ctx, http.MethodPost, "/custody/custodians/"+id+"/redemption",
		map[string]any{"amount": amount}, &out)
	return out.Minted, err
}

func (c *Client) CheckViolation(ctx context.Context, id string, reason domain.Reason) (enforce.Verdict, error) {
	var out struct {
		Verdict enforce.Verdict `json:"verdict"`
	}
	err := c.do(ctx, http.MethodGet, "/custody/custodians/"+id+"/violations/"+string(reason), nil, &out)
	return out.Verdict, err
}

func (c *Client) EnforceViolation(ctx context.Context, id string, reason domain.Reason) (bool, enforce.Verdict, error) {
	var out struct {
		Enforced bool            `json:"enforced"`
		Verdict  enforce.Verdict `json:"verdict"`
	}
	err := c.do(ctx, http.MethodPost, "/custody/custodians/"+id+"/violations/"+string(reason)+"/enforce", nil, &out)
	return out.Enforced, out.Verdict, err
}

func (c *Client) BatchCheck(ctx context.Context, ids []string, reason domain.Reason) ([]enforce.BatchResult, error) {
	var out struct {
		Results []enforce.BatchResult `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, "/custody/violations/batch-check",
		map[string]any{"custodian_ids": ids, "reason": reason}, &out)
	return out.Results, err
}

func (c *Client) Events(ctx context.Context, id string) ([]audit.Event, error) {
	var out struct {
		Events []audit.Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, "/custody/custodians/"+id+"/events", nil, &out)
	return out.Events, err
}
