// Package proof is the payment-proof collaborator boundary. The core
// consumes only the boolean outcome plus the confirmed amount and
// timestamp; proof construction is out of scope.
package proof

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrMalformedProof = errors.New("malformed payment proof")
	ErrUnknownKey     = errors.New("unknown signing key")
)

// Verification is what default confirmation consumes.
type Verification struct {
	Valid           bool      `json:"valid"`
	ConfirmedAmount uint64    `json:"confirmed_amount"`
	ConfirmedAt     time.Time `json:"confirmed_at"`
}

// Verifier checks a fulfillment proof for a claimed redemption amount.
type Verifier interface {
	VerifyPaymentProof(claimedAmount uint64, blob []byte) (Verification, error)
}

// Receipt is the payload a custodian's bank signs when a redemption
// payout settles.
type Receipt struct {
	CustodianID string    `json:"custodian_id"`
	Amount      uint64    `json:"amount"`
	PaidAt      time.Time `json:"paid_at"`
}

// Envelope carries the detached ed25519 signature over the canonical
// receipt encoding.
type Envelope struct {
	Algorithm string `json:"algorithm"`
	KeyID     string `json:"key_id"`
	Signature string `json:"signature"`
}

type signedReceipt struct {
	Receipt  Receipt  `json:"receipt"`
	Envelope Envelope `json:"envelope"`
}

// EnvelopeVerifier validates signed receipts against a fixed set of
// trusted signing keys, keyed by key id.
type EnvelopeVerifier struct {
	TrustedKeys map[string]ed25519.PublicKey
}

func (v *EnvelopeVerifier) VerifyPaymentProof(claimedAmount uint64, blob []byte) (Verification, error) {
	var sr signedReceipt
	if err := json.Unmarshal(blob, &sr); err != nil {
		return Verification{}, ErrMalformedProof
	}
	if sr.Envelope.Algorithm != "ed25519" {
		return Verification{}, ErrMalformedProof
	}
	pub, ok := v.TrustedKeys[sr.Envelope.KeyID]
	if !ok {
		return Verification{}, ErrUnknownKey
	}
	sig, err := base64.StdEncoding.DecodeString(sr.Envelope.Signature)
	if err != nil {
		return Verification{}, ErrMalformedProof
	}
	payload, err := json.Marshal(sr.Receipt)
	if err != nil {
		return Verification{}, ErrMalformedProof
	}
	if !ed25519.Verify(pub, payload, sig) {
		return Verification{Valid: false}, nil
	}
	// A valid signature over a smaller amount does not cover the claim.
	if sr.Receipt.Amount < claimedAmount {
		return Verification{Valid: false, ConfirmedAmount: sr.Receipt.Amount, ConfirmedAt: sr.Receipt.PaidAt}, nil
	}
	return Verification{Valid: true, ConfirmedAmount: sr.Receipt.Amount, ConfirmedAt: sr.Receipt.PaidAt}, nil
}

// SignReceipt produces a proof blob the EnvelopeVerifier accepts. Lives
// here for tests and operator tooling; production proofs come from the
// custodian's bank.
func SignReceipt(priv ed25519.PrivateKey, keyID string, r Receipt) ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(priv, payload)
	return json.Marshal(signedReceipt{
		Receipt: r,
		Envelope: Envelope{
			Algorithm: "ed25519",
			KeyID:     keyID,
			Signature: base64.StdEncoding.EncodeToString(sig),
		},
	})
}
