package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-taker/internal/model"
)

// Claims are the access-token claims the client reads.
type Claims struct {
	jwt.RegisteredClaims
	UserID    int    `json:"user_id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// State is the signed-in user as seen by this process.
type State struct {
	Access    string    `json:"access"`
	Refresh   string    `json:"refresh"`
	UserID    int       `json:"user_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the access token is past its expiry.
// A zero ExpiresAt never expires.
func (s State) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// ParseClaims decodes an access token without verifying its signature.
// The client cannot verify it; the server does on every call.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if claims.UserID == 0 {
		return nil, errors.New("token carries no user_id")
	}
	return claims, nil
}

// StateFromTokens builds a State from a login response.
func StateFromTokens(pair model.TokenPair) (State, error) {
	claims, err := ParseClaims(pair.Access)
	if err != nil {
		return State{}, err
	}
	st := State{
		Access:    pair.Access,
		Refresh:   pair.Refresh,
		UserID:    claims.UserID,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
	}
	if claims.ExpiresAt != nil {
		st.ExpiresAt = claims.ExpiresAt.Time
	}
	return st, nil
}
