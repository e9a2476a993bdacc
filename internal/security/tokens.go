package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gathering-marketplace/backend/internal/autherr"
)

// Kind distinguishes the two credential classes. It is embedded as the "typ" claim and
// selects the key pair used for signing and verification.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Subject is what a credential asserts about its bearer.
type Subject struct {
	IdentityID  string
	Email       string
	PrimaryRole string
	Roles       []string
}

// Claims is the JWT payload shared by access and refresh credentials.
type Claims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email"`
	PrimaryRole string   `json:"primary_role"`
	Roles       []string `json:"roles"`
	Type        Kind     `json:"typ"`
}

// IdentityID returns the subject claim.
func (c *Claims) IdentityID() string { return c.Subject }

// Codec mints and verifies access and refresh credentials. It holds no mutable state and is
// safe for concurrent use.
type Codec struct {
	access     KeyPair
	refresh    KeyPair
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewCodec returns a Codec. access and refresh must be different key pairs.
func NewCodec(access, refresh KeyPair, issuer, audience string, accessTTL, refreshTTL time.Duration) (*Codec, error) {
	if access.Private == nil || refresh.Private == nil || access.Method == nil || refresh.Method == nil {
		return nil, fmt.Errorf("codec: both key pairs are required: %w", ErrInvalidKey)
	}
	if publicKeyEqual(access.Public, refresh.Public) {
		return nil, fmt.Errorf("codec: access and refresh must use different keys: %w", ErrInvalidKey)
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("codec: token lifetimes must be positive")
	}
	return &Codec{
		access:     access,
		refresh:    refresh,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock returns a copy of c that reads time from now. Used by tests to mint or verify
// credentials at a fixed instant.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

// RefreshTTL is the refresh credential lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// MintAccess signs a short-lived access credential for sub.
func (c *Codec) MintAccess(sub Subject) (string, time.Time, error) {
	return c.mint(sub, KindAccess)
}

// MintRefresh signs a long-lived refresh credential for sub.
func (c *Codec) MintRefresh(sub Subject) (string, time.Time, error) {
	return c.mint(sub, KindRefresh)
}

func (c *Codec) mint(sub Subject, kind Kind) (string, time.Time, error) {
	if sub.IdentityID == "" {
		return "", time.Time{}, errors.New("codec: subject identity is required")
	}
	keys, ttl := c.keysFor(kind)
	jti, err := newJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := c.now()
	expiresAt := now.Add(ttl)
	roles := make([]string, len(sub.Roles))
	copy(roles, sub.Roles)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   sub.IdentityID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:       sub.Email,
		PrimaryRole: sub.PrimaryRole,
		Roles:       roles,
		Type:        kind,
	}
	token, err := jwt.NewWithClaims(keys.Method, claims).SignedString(keys.Private)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("codec: sign %s: %w", kind, err)
	}
	return token, expiresAt, nil
}

// Verify checks signature, expiry, issuer, audience and credential class. It never consults
// the ledger. Errors are autherr.ErrExpiredCredential or autherr.ErrMalformedCredential.
func (c *Codec) Verify(tokenString string, kind Kind) (*Claims, error) {
	if tokenString == "" {
		return nil, autherr.ErrMalformedCredential
	}
	keys, _ := c.keysFor(kind)
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return keys.Public, nil },
		jwt.WithValidMethods([]string{keys.Method.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, autherr.ErrExpiredCredential
		}
		return nil, autherr.ErrMalformedCredential
	}
	if !token.Valid || claims.Type != kind || claims.Subject == "" {
		return nil, autherr.ErrMalformedCredential
	}
	return claims, nil
}

func (c *Codec) keysFor(kind Kind) (KeyPair, time.Duration) {
	if kind == KindRefresh {
		return c.refresh, c.refreshTTL
	}
	return c.access, c.accessTTL
}
