package authn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/domain"
)

var ErrUnauthorized = errors.New("unauthorized")

// Identity is a resolved caller: who presented the bearer credential and
// which capabilities it holds.
type Identity struct {
	CallerID     string
	Capabilities []domain.Capability
}

func (id *Identity) Has(cap domain.Capability) bool {
	if id == nil {
		return false
	}
	for _, c := range id.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Gate answers the single question the core consumes: does this caller
// hold capability cap. Implementations must be safe for concurrent use.
type Gate interface {
	HasCapability(ctx context.Context, caller string, cap domain.Capability) bool
}

// Authenticator resolves an Authorization header to an Identity.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (*Identity, error)
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}

// ContextGate checks capabilities against the identity the request
// middleware placed in the context. A caller may only act as itself.
type ContextGate struct{}

func (ContextGate) HasCapability(ctx context.Context, caller string, cap domain.Capability) bool {
	id, ok := IdentityFrom(ctx)
	return ok && id.CallerID == caller && id.Has(cap)
}

// Static is an in-memory gate and authenticator for tests and single
// operator deployments without a database.
type Static struct {
	mu     sync.RWMutex
	grants map[string]map[domain.Capability]bool
	tokens map[string]string
}

func NewStatic() *Static {
	return &Static{
		grants: map[string]map[domain.Capability]bool{},
		tokens: map[string]string{},
	}
}

func (s *Static) Grant(caller string, caps ...domain.Capability) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.grants[caller]
	if m == nil {
		m = map[domain.Capability]bool{}
		s.grants[caller] = m
	}
	for _, c := range caps {
		m[c] = true
	}
	return s
}

func (s *Static) IssueToken(token, caller string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = caller
	return s
}

func (s *Static) HasCapability(ctx context.Context, caller string, cap domain.Capability) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grants[caller][cap]
}

func (s *Static) Authenticate(ctx context.Context, authorization string) (*Identity, error) {
	token, ok := parseBearerToken(authorization)
	if !ok {
		return nil, ErrUnauthorized
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	caller, ok := s.tokens[token]
	if !ok {
		return nil, ErrUnauthorized
	}
	caps := make([]domain.Capability, 0, len(s.grants[caller]))
	for c := range s.grants[caller] {
		caps = append(caps, c)
	}
	return &Identity{CallerID: caller, Capabilities: caps}, nil
}

// TokenStore authenticates bearer tokens against hashed credentials in
// Postgres and serves capability checks from the grants table.
type TokenStore struct {
	DB *pgxpool.Pool
}

func (t *TokenStore) Authenticate(ctx context.Context, authorization string) (*Identity, error) {
	token, ok := parseBearerToken(authorization)
	if !ok {
		return nil, ErrUnauthorized
	}
	tokenHash := HashToken(token)
	var out Identity
	var caps []string
	err := t.DB.QueryRow(ctx, `
SELECT c.caller_id, COALESCE(array_agg(g.capability) FILTER (WHERE g.capability IS NOT NULL), '{}')
FROM credentials c
LEFT JOIN capability_grants g ON g.caller_id = c.caller_id AND g.revoked_at IS NULL
WHERE c.token_hash = $1
  AND c.revoked_at IS NULL
GROUP BY c.caller_id
`, tokenHash).Scan(&out.CallerID, &caps)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	for _, c := range caps {
		out.Capabilities = append(out.Capabilities, domain.Capability(c))
	}
	return &out, nil
}

func (t *TokenStore) HasCapability(ctx context.Context, caller string, cap domain.Capability) bool {
	var one int
	err := t.DB.QueryRow(ctx, `
SELECT 1
FROM capability_grants
WHERE caller_id = $1
  AND capability = $2
  AND revoked_at IS NULL
`, caller, string(cap)).Scan(&one)
	return err == nil
}

func parseBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
