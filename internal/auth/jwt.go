package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	AccessTokenTTL  = time.Hour * 24 * 3 // 3 days
	RefreshTokenTTL = time.Hour * 24 * 9 // 9 days
)

var ErrInvalidSubject = errors.New("token has no subject")

type JWTAuthenticator struct {
	refreshSecret string
	secret        string
	aud           string
	iss           string
}

func NewJWTAuthenticator(secret, refreshSecret, aud, iss string) *JWTAuthenticator {
	return &JWTAuthenticator{
		refreshSecret: refreshSecret,
		secret:        secret,
		aud:           aud,
		iss:           iss,
	}
}

// GenerateTokens generates both access and refresh tokens
func (a *JWTAuthenticator) GenerateTokens(userID, provider string) (string, string, error) {
	now := time.Now()
	accessClaims := jwt.MapClaims{
		"sub":      userID,
		"provider": provider,
		"exp":      now.Add(AccessTokenTTL).Unix(),
		"iat":      now.Unix(),
		"nbf":      now.Unix(),
		"iss":      a.iss,
		"aud":      a.aud,
	}

	refreshClaims := jwt.MapClaims{
		"sub": userID,
		"exp": now.Add(RefreshTokenTTL).Unix(),
		"iat": now.Unix(),
		"iss": a.iss,
	}

	accessToken, err := a.generateTokenWithClaims(accessClaims, a.secret)
	if err != nil {
		return "", "", err
	}

	refreshToken, err := a.generateTokenWithClaims(refreshClaims, a.refreshSecret)
	if err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

func (a *JWTAuthenticator) generateTokenWithClaims(claims jwt.Claims, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ValidateAccessToken validates the access token
func (a *JWTAuthenticator) ValidateAccessToken(token string) (*jwt.Token, error) {
	return jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.secret), nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithAudience(a.aud),
		jwt.WithIssuer(a.iss),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
	)
}

// ValidateRefreshToken validates the refresh token
func (a *JWTAuthenticator) ValidateRefreshToken(token string) (*jwt.Token, error) {
	return jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.refreshSecret), nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.iss),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
	)
}

// Subject returns the user id a validated token was issued for.
func Subject(token *jwt.Token) (string, error) {
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", ErrInvalidSubject
	}
	return sub, nil
}
