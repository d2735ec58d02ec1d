package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskstream/deskstream/pkg/models"
)

const secret = "test-signing-secret"

func TestTokenRoundTrip(t *testing.T) {
	name := "Alice Archer"
	want := &Session{
		UserID:   "user-1",
		Email:    "alice@example.com",
		FullName: &name,
		IsAdmin:  false,
	}

	token, err := Token(want, secret)
	require.NoError(t, err)

	got, err := Parse(token, secret)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseAdminFlag(t *testing.T) {
	token, err := Token(&Session{UserID: "staff-1", Email: "s@example.com", IsAdmin: true}, secret)
	require.NoError(t, err)

	got, err := Parse(token, secret)
	require.NoError(t, err)
	assert.True(t, got.IsAdmin)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := Token(&Session{UserID: "user-1", Email: "a@example.com"}, secret)
	require.NoError(t, err)

	_, err = Parse(token, "some-other-secret")
	assert.Error(t, err)
}

func TestParseRejectsMissingSubject(t *testing.T) {
	token, err := Token(&Session{Email: "a@example.com"}, secret)
	require.NoError(t, err)

	_, err = Parse(token, secret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token, err := Token(&Session{UserID: "user-1", Email: "a@example.com"}, secret,
		func(c *Claims) {
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		})
	require.NoError(t, err)

	_, err = Parse(token, secret)
	assert.Error(t, err)
}

func TestParseRejectsUnsignedToken(t *testing.T) {
	claims := Claims{
		Email:            "a@example.com",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = Parse(token, secret)
	assert.Error(t, err)
}

func TestCanSee(t *testing.T) {
	customer := &Session{UserID: "alice"}
	staff := &Session{UserID: "staff-1", IsAdmin: true}

	own := models.Ticket{ID: "t1", CreatedBy: "alice"}
	foreign := models.Ticket{ID: "t2", CreatedBy: "bob"}

	assert.True(t, customer.CanSee(own))
	assert.False(t, customer.CanSee(foreign))
	assert.True(t, staff.CanSee(own))
	assert.True(t, staff.CanSee(foreign))
}

func TestProfile(t *testing.T) {
	name := "Alice"
	s := &Session{UserID: "user-1", Email: "a@example.com", FullName: &name, IsAdmin: true}
	p := s.Profile()

	assert.Equal(t, "user-1", p.ID)
	assert.Equal(t, "a@example.com", p.Email)
	assert.Equal(t, &name, p.FullName)
	assert.True(t, p.IsAdmin)
}
