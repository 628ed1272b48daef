package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sitaurs/pterodactyl-claim/custom_errors"
)

const issuer = "pterodactyl-claim"

// Signer issues and checks the opaque status token handed to the claimant.
// The token is a stateless HS256 JWT whose subject is the claim ID.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (s *Signer) Issue(claimID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   claimID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign claim token: %w", err)
	}
	return signed, nil
}

// Verify succeeds only for an unexpired token issued for claimID.
func (s *Signer) Verify(raw, claimID string) error {
	if raw == "" {
		return custom_errors.ErrInvalidToken
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	var claims jwt.RegisteredClaims
	token, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return fmt.Errorf("%w: %v", custom_errors.ErrInvalidToken, err)
	}
	if claims.Subject != claimID || claims.Issuer != issuer {
		return custom_errors.ErrInvalidToken
	}
	return nil
}
