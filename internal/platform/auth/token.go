package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the session token payload.
type Claims struct {
	jwt.RegisteredClaims
	Username  string `json:"username"`
	Role      Role   `json:"role"`
	ProfileID string `json:"profile_id,omitempty"`
}

type JWTConfig struct {
	SigningKey []byte
	Issuer     string
	Audience   string
	TTL        time.Duration
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	cfg JWTConfig
	now func() time.Time
}

func NewTokenIssuer(cfg JWTConfig) (*TokenIssuer, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("jwt signing key is empty")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", cfg.TTL)
	}
	return &TokenIssuer{cfg: cfg, now: time.Now}, nil
}

// Issue returns a signed token for p and fills in p.TokenID, p.IssuedAt
// and p.ExpiresAt.
func (ti *TokenIssuer) Issue(p *Principal) (string, error) {
	now := ti.now().Truncate(time.Second)
	p.TokenID = uuid.NewString()
	p.IssuedAt = now
	p.ExpiresAt = now.Add(ti.cfg.TTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        p.TokenID,
			Subject:   p.UserID.String(),
			Issuer:    ti.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(p.ExpiresAt),
		},
		Username: p.Username,
		Role:     p.Role,
	}
	if ti.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{ti.cfg.Audience}
	}
	if p.ProfileID != uuid.Nil {
		claims.ProfileID = p.ProfileID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies tokenStr and returns the principal it carries.
func (ti *TokenIssuer) Parse(tokenStr string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	}
	if ti.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(ti.cfg.Issuer))
	}
	if ti.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(ti.cfg.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return ti.cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("token subject: %w", err)
	}
	if claims.ID == "" {
		return nil, errors.New("token has no id")
	}
	p := &Principal{
		UserID:   userID,
		Username: claims.Username,
		Role:     claims.Role,
		TokenID:  claims.ID,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.ProfileID != "" {
		if p.ProfileID, err = uuid.Parse(claims.ProfileID); err != nil {
			return nil, fmt.Errorf("token profile id: %w", err)
		}
	}
	if !p.Role.Valid() {
		// unknown roles are treated like an account without a role
		p.Role = RoleUnassigned
	}
	return p, nil
}
