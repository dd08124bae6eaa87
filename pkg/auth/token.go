// Package auth issues and verifies the HS512 access and refresh tokens of the
// API and hashes passwords with bcrypt.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

// MinSecretLength is the HS512 key size in bytes.
const MinSecretLength = 64

var (
	ErrInvalidToken       = errors.New("auth: invalid or expired token")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrSecretTooShort     = fmt.Errorf("auth: jwt secret must be at least %d bytes", MinSecretLength)
)

// Claims is the private claim set carried by both token kinds.
type Claims struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	IsRefreshToken bool   `json:"isRefreshToken,omitempty"`

	IssuedAt time.Time `json:"-"`
	Expiry   time.Time `json:"-"`
}

// Tokens is an access/refresh pair.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type TokenConfig struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Issuer signs and verifies tokens with one shared secret.
type Issuer struct {
	signer     jose.Signer
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(cfg TokenConfig) (*Issuer, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS512, Key: cfg.Secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: create signer: %w", err)
	}

	i := &Issuer{
		signer:     signer,
		key:        cfg.Secret,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	if i.accessTTL <= 0 {
		i.accessTTL = time.Hour
	}
	if i.refreshTTL <= 0 {
		i.refreshTTL = 7 * 24 * time.Hour
	}
	return i, nil
}

// Issue returns a fresh access and refresh token for the user.
func (i *Issuer) Issue(id, email string) (Tokens, error) {
	access, err := i.AccessToken(id, email)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := i.sign(Claims{ID: id, Email: email, IsRefreshToken: true}, i.refreshTTL)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

func (i *Issuer) AccessToken(id, email string) (string, error) {
	return i.sign(Claims{ID: id, Email: email}, i.accessTTL)
}

func (i *Issuer) sign(c Claims, ttl time.Duration) (string, error) {
	now := i.now()
	std := jwt.Claims{
		Subject:  c.ID,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ttl)),
	}
	raw, err := jwt.Signed(i.signer).Claims(std).Claims(c).Serialize()
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return raw, nil
}

// Parse verifies the signature and expiry of raw and returns its claims.
// Every failure is reported as ErrInvalidToken.
func (i *Issuer) Parse(raw string) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS512})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var (
		std jwt.Claims
		c   Claims
	)
	if err := tok.Claims(i.key, &std, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if std.Expiry == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	if err := std.ValidateWithLeeway(jwt.Expected{Time: i.now()}, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidToken)
	}

	c.Expiry = std.Expiry.Time()
	if std.IssuedAt != nil {
		c.IssuedAt = std.IssuedAt.Time()
	}
	return &c, nil
}

// ParseRefresh is Parse restricted to refresh tokens.
func (i *Issuer) ParseRefresh(raw string) (*Claims, error) {
	c, err := i.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !c.IsRefreshToken {
		return nil, fmt.Errorf("%w: not a refresh token", ErrInvalidToken)
	}
	return c, nil
}

// Verify accepts access tokens only and returns the principal the bearer
// middleware stores in the request context.
func (i *Issuer) Verify(_ context.Context, raw string) (*oidc.IntrospectionResponse, error) {
	c, err := i.Parse(raw)
	if err != nil {
		return nil, err
	}
	if c.IsRefreshToken {
		return nil, fmt.Errorf("%w: refresh token used as access token", ErrInvalidToken)
	}
	return &oidc.IntrospectionResponse{
		Active:     true,
		Subject:    c.ID,
		TokenType:  "Bearer",
		IssuedAt:   oidc.FromTime(c.IssuedAt),
		Expiration: oidc.FromTime(c.Expiry),
		UserInfoEmail: oidc.UserInfoEmail{
			Email: c.Email,
		},
		Claims: map[string]any{
			"id":    c.ID,
			"email": c.Email,
		},
	}, nil
}
