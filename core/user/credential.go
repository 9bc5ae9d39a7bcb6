package user

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"
)

// Claims is the platform's access-token payload. The client only inspects
// claims, it never verifies signatures; that is the backend's job.
type Claims struct {
	jwt.StandardClaims
	Role string `json:"role"`
}

// Credential is a bearer token plus the claims the client cares about.
type Credential struct {
	Token     string    `json:"token"`
	UserID    int       `json:"user_id"`
	Role      Role      `json:"role"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewCredential inspects a raw access token and builds a Credential.
// A role claim missing from the token falls back to `role`.
func NewCredential(token string, userID int, role string) (Credential, error) {
	claims := new(Claims)
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return Credential{}, errors.Wrap(err, "parsing access token")
	}

	roleStr := claims.Role
	if roleStr == "" {
		roleStr = role
	}
	parsedRole, err := ParseRole(roleStr)
	if err != nil {
		return Credential{}, err
	}

	cred := Credential{
		Token:   token,
		UserID:  userID,
		Role:    parsedRole,
		Subject: claims.Subject,
	}
	if claims.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(claims.ExpiresAt, 0)
	}
	return cred, nil
}

// IsZero reports whether no credential is held.
func (c Credential) IsZero() bool { return c.Token == "" }

// Expired reports whether the token's exp claim has passed. Tokens without
// an exp claim never expire client-side; the backend has the final word.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}
