// Package session derives the viewer identity a View is scoped to from the
// backend's access tokens. Tokens are HS256 JWTs carrying the profile id as
// the subject plus the email, display name, and the admin flag.
//
// The identity and the admin flag are fixed for the lifetime of a session;
// a role or user switch means parsing a new token and opening a new View
// against it.
package session

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/deskstream/deskstream/pkg/models"
)

// Claims is the token payload.
type Claims struct {
	Email    string  `json:"email"`
	FullName *string `json:"full_name,omitempty"`
	IsAdmin  bool    `json:"is_admin"`
	jwt.RegisteredClaims
}

// Session is the authenticated viewer a View operates for.
type Session struct {
	UserID   string
	Email    string
	FullName *string
	IsAdmin  bool
}

var ErrInvalidToken = errors.New("invalid session token")

// Parse validates an access token against the signing secret and extracts
// the session. It rejects non-HMAC signatures to close the usual
// algorithm-confusion hole, and rejects tokens without a subject.
func Parse(token, secret string) (*Session, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &Session{
		UserID:   claims.Subject,
		Email:    claims.Email,
		FullName: claims.FullName,
		IsAdmin:  claims.IsAdmin,
	}, nil
}

// Token signs an access token for the session. The backend is the usual
// issuer; this exists for tools and tests.
func Token(s *Session, secret string, opts ...func(*Claims)) (string, error) {
	claims := Claims{
		Email:    s.Email,
		FullName: s.FullName,
		IsAdmin:  s.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: s.UserID,
			Issuer:  "deskstream",
		},
	}
	for _, opt := range opts {
		opt(&claims)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// CanSee reports whether the viewer is permitted to observe a ticket:
// staff see everything, customers only their own tickets. Read accessors
// apply this regardless of any feed-side filtering.
func (s *Session) CanSee(t models.Ticket) bool {
	return s.IsAdmin || t.CreatedBy == s.UserID
}

// Profile returns the session as a profile record for display purposes.
func (s *Session) Profile() models.Profile {
	return models.Profile{
		ID:       s.UserID,
		Email:    s.Email,
		FullName: s.FullName,
		IsAdmin:  s.IsAdmin,
	}
}
