package authn

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/domain"
)

// JWTAuthenticator resolves HMAC-signed bearer JWTs. The token subject is
// the caller id; capabilities ride in the custody_caps claim.
type JWTAuthenticator struct {
	Secret []byte
}

type custodyClaims struct {
	Capabilities []string `json:"custody_caps"`
	jwt.RegisteredClaims
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, authorization string) (*Identity, error) {
	raw, ok := parseBearerToken(authorization)
	if !ok {
		return nil, ErrUnauthorized
	}
	var claims custodyClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthorized
		}
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, ErrUnauthorized
	}
	id := &Identity{CallerID: claims.Subject}
	for _, c := range claims.Capabilities {
		id.Capabilities = append(id.Capabilities, domain.Capability(c))
	}
	return id, nil
}

// SignJWT mints a token the JWTAuthenticator accepts. Used by operators
// and tests; expiry handling follows the registered claims if set.
func SignJWT(secret []byte, caller string, caps []domain.Capability) (string, error) {
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		names = append(names, string(c))
	}
	claims := custodyClaims{
		Capabilities: names,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: caller,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
