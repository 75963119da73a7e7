package relay

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Principal is the authenticated identity behind a session.
type Principal struct {
	UserID   string
	UserName string
}

var errMissingToken = errors.New("missing token")

// Authenticator validates session tokens. With an empty secret it runs
// in dev mode and mints anonymous principals, so a local relay needs
// no token infrastructure.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an Authenticator for the given HMAC secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Authenticate resolves a bearer token to a Principal. In dev mode the
// token is used verbatim as the user id, falling back to a generated
// one when absent.
func (a *Authenticator) Authenticate(token string) (Principal, error) {
	if len(a.secret) == 0 {
		if token == "" {
			id := uuid.NewString()
			return Principal{UserID: id, UserName: "guest-" + id[:8]}, nil
		}
		return Principal{UserID: token, UserName: token}, nil
	}

	if token == "" {
		return Principal{}, errMissingToken
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Principal{}, errors.New("token missing sub claim")
	}
	name, _ := claims["name"].(string)
	if name == "" {
		name = sub
	}
	return Principal{UserID: sub, UserName: name}, nil
}

// IssueToken signs a session token for a user. Dev mode has no secret
// to sign with, so this only works against a configured relay.
func (a *Authenticator) IssueToken(userID, userName string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("no signing secret configured")
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"name": userName,
	})
	return t.SignedString(a.secret)
}
