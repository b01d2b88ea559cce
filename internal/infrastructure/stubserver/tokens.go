package stubserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ucmc/clinic-client/internal/core/domain"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var errInvalidToken = errors.New("invalid token")

// TokenIssuer mints and verifies the HS256 access/refresh token pair. The
// "typ" claim keeps the two from being used interchangeably.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// Issue returns a fresh access/refresh pair for the user.
func (i *TokenIssuer) Issue(user *domain.User) (access, refresh string, err error) {
	if access, err = i.sign(user, tokenTypeAccess, i.accessTTL); err != nil {
		return "", "", err
	}
	if refresh, err = i.sign(user, tokenTypeRefresh, i.refreshTTL); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// IssueAccess returns only a new access token (the refresh endpoint does not
// rotate refresh tokens).
func (i *TokenIssuer) IssueAccess(user *domain.User) (string, error) {
	return i.sign(user, tokenTypeAccess, i.accessTTL)
}

func (i *TokenIssuer) sign(user *domain.User, typ string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"role":  user.Role,
		"typ":   typ,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(i.secret)
}

// Verify parses a token and checks it carries the wanted type. It returns
// the subject (user id) and role claims.
func (i *TokenIssuer) Verify(token, wantType string) (userID, role string, err error) {
	claims := jwt.MapClaims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return i.secret, nil
	})
	if err != nil || !tkn.Valid {
		return "", "", errInvalidToken
	}
	if typ, _ := claims["typ"].(string); typ != wantType {
		return "", "", fmt.Errorf("%w: wrong token type", errInvalidToken)
	}
	userID, _ = claims["sub"].(string)
	role, _ = claims["role"].(string)
	if userID == "" {
		return "", "", errInvalidToken
	}
	return userID, role, nil
}
