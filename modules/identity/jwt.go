// Package identity resolves bearer tokens to chat identities.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/live-chat/domain/chat"
)

var (
	// ErrUnauthenticated is returned when a token is missing, invalid or expired.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrExpiredToken is returned when the token has expired. It wraps ErrUnauthenticated.
	ErrExpiredToken = errors.Join(ErrUnauthenticated, errors.New("token has expired"))
)

// Provider resolves an opaque token to an Identity.
type Provider interface {
	ResolveIdentity(ctx context.Context, token string) (chat.Identity, error)
}

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	SecretKey string
	Issuer    string
}

// Claims are the custom claims carried by chat access tokens.
type Claims struct {
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	AvatarPath     string `json:"avatar_path,omitempty"`
	AvatarFilename string `json:"avatar_filename,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider validates HS256 tokens issued by the account service.
type JWTProvider struct {
	config JWTConfig
}

var _ Provider = (*JWTProvider)(nil)

// NewJWTProvider creates a new JWTProvider with the given configuration.
func NewJWTProvider(config JWTConfig) *JWTProvider {
	return &JWTProvider{config: config}
}

// IssueToken signs a token for id that expires after ttl.
func (p *JWTProvider) IssueToken(id chat.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:         id.UserID,
		Username:       id.Username,
		AvatarPath:     id.Avatar.Path,
		AvatarFilename: id.Avatar.Filename,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.config.Issuer,
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(p.config.SecretKey))
}

// ResolveIdentity validates token and returns the identity it carries.
func (p *JWTProvider) ResolveIdentity(_ context.Context, token string) (chat.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return chat.Identity{}, ErrUnauthenticated
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if p.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.config.Issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthenticated
		}
		return []byte(p.config.SecretKey), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return chat.Identity{}, ErrExpiredToken
		}
		return chat.Identity{}, ErrUnauthenticated
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return chat.Identity{}, ErrUnauthenticated
	}
	if claims.UserID == "" || strings.TrimSpace(claims.Username) == "" {
		return chat.Identity{}, ErrUnauthenticated
	}

	return chat.Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		Avatar:   chat.Avatar{Path: claims.AvatarPath, Filename: claims.AvatarFilename},
	}, nil
}
