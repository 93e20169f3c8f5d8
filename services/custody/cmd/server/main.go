package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/audit"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/authn"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/custody"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/db"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/domain"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/enforce"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/proof"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/reserve"
	"github.com/tlabs-xyz/tbtc-v2-sub010/services/custody/internal/store"
)

func main() {
	ctx := context.Background()
	params := paramsFromEnv()

	var sinks []audit.Sink
	var auth authn.Authenticator
	var st *store.Store

	switch {
	case os.Getenv("DATABASE_URL") != "":
		pool := db.MustConnect(ctx)
		st = store.New(pool)
		if err := st.EnsureSchema(ctx); err != nil {
			log.Fatalf("ensure schema: %v", err)
		}
		sinks = append(sinks, st)
		auth = &authn.TokenStore{DB: pool}
	case os.Getenv("CUSTODY_JWT_SECRET") != "":
		auth = &authn.JWTAuthenticator{Secret: []byte(os.Getenv("CUSTODY_JWT_SECRET"))}
	default:
		auth = devAuth(getenvOr("CUSTODY_ROOT_TOKEN", "dev-root"), splitList(os.Getenv("CUSTODY_DEV_CUSTODIANS")))
		log.Printf("no DATABASE_URL or CUSTODY_JWT_SECRET; dev auth enabled")
	}

	auditLog := audit.NewLog(sinks...)
	gate := authn.ContextGate{}
	registry := custody.NewRegistry(gate, auditLog, params)
	ledger := reserve.NewLedger(gate, auditLog, params)
	engine := enforce.NewEngine(ledger, registry, params)

	s := &server{
		registry: registry,
		ledger:   ledger,
		engine:   engine,
		log:      auditLog,
		auth:     auth,
		store:    st,
		verifier: verifierFromEnv(),
	}

	r := chi.NewRouter()
	r.Use(s.identity)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Route("/custody", s.routes)

	port := getenvOr("CUSTODY_SERVICE_PORT", "8090")
	log.Printf("custody service listening on :%s", port)
	log.Fatal(http.ListenAndServe(":"+port, r))
}

func paramsFromEnv() domain.Params {
	p := domain.DefaultParams()
	p.MinAttesters = getenvInt("CUSTODY_MIN_ATTESTERS", p.MinAttesters)
	p.DeviationTolerancePct = uint64(getenvInt("CUSTODY_DEVIATION_TOLERANCE_PCT", int(p.DeviationTolerancePct)))
	p.MinCollateralRatioPct = uint64(getenvInt("CUSTODY_MIN_COLLATERAL_RATIO_PCT", int(p.MinCollateralRatioPct)))
	p.StaleThreshold = getenvDuration("CUSTODY_STALE_THRESHOLD", p.StaleThreshold)
	p.AttestationWindow = getenvDuration("CUSTODY_ATTESTATION_WINDOW", p.AttestationWindow)
	p.EscalationDelay = getenvDuration("CUSTODY_ESCALATION_DELAY", p.EscalationDelay)
	p.SustainedMinDuration = getenvDuration("CUSTODY_SUSTAINED_MIN_DURATION", p.SustainedMinDuration)
	return p
}

// devAuth is the no-database credential set: a root token holding the
// governance and supply capabilities, three attester tokens so quorum
// consensus is reachable, and a self-management token per custodian id
// listed in CUSTODY_DEV_CUSTODIANS (token "dev-<id>").
func devAuth(rootToken string, custodianIDs []string) *authn.Static {
	static := authn.NewStatic().
		Grant("root", domain.CapGovern, domain.CapSupply).
		IssueToken(rootToken, "root")
	for _, att := range []string{"att-1", "att-2", "att-3"} {
		static.Grant(att, domain.CapAttest).IssueToken("dev-"+att, att)
	}
	for _, id := range custodianIDs {
		static.Grant(id, domain.CapSelf).IssueToken("dev-"+id, id)
	}
	return static
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// verifierFromEnv builds the payment-proof verifier from
// CUSTODY_PROOF_KEYS, a comma-separated list of keyid=base64pubkey
// pairs. Proof submission is disabled when unset.
func verifierFromEnv() proof.Verifier {
	raw := os.Getenv("CUSTODY_PROOF_KEYS")
	if raw == "" {
		return nil
	}
	keys := map[string]ed25519.PublicKey{}
	for _, pair := range strings.Split(raw, ",") {
		id, b64, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			log.Fatalf("CUSTODY_PROOF_KEYS: malformed entry %q", pair)
		}
		pub, err := base64.StdEncoding.DecodeString(b64)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			log.Fatalf("CUSTODY_PROOF_KEYS: bad key for %q", id)
		}
		keys[id] = ed25519.PublicKey(pub)
	}
	return &proof.EnvelopeVerifier{TrustedKeys: keys}
}

func getenvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
