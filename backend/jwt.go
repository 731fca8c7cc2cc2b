// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/internal/auth"
)

// TokenIssuer is the iss claim of tokens minted by GenerateToken
const TokenIssuer = "tradesync"

// DefaultLeeway tolerates clock skew between devices and the server
const DefaultLeeway = 2 * time.Minute

var (
	errNoAuthHeader = errors.New("authorization header required")
	errNotBearer    = errors.New("bearer token required")
)

// JWTAuth issues and validates device tokens
type JWTAuth struct {
	secret []byte
	leeway time.Duration
}

// NewJWTAuth creates a new JWT authenticator
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
		leeway: DefaultLeeway,
	}
}

// WithLeeway returns a copy of j accepting the given clock skew
func (j *JWTAuth) WithLeeway(d time.Duration) *JWTAuth {
	cp := *j
	cp.leeway = d
	return &cp
}

// JWTClaims carries the user in sub and the device in did
type JWTClaims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for a user's device
func (j *JWTAuth) GenerateToken(userID, deviceID string, expiration time.Duration) (string, error) {
	if userID == "" || deviceID == "" {
		return "", fmt.Errorf("user and device are required")
	}
	now := time.Now()
	claims := &JWTClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// ValidateToken checks signature, issuer and time claims and requires both
// sub and did.
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return j.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.leeway),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub (user ID) in token")
	}
	if claims.DeviceID == "" {
		return nil, fmt.Errorf("missing did (device ID) in token")
	}
	return claims, nil
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errNoAuthHeader
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.Contains(token, " ") {
		return "", errNotBearer
	}
	return token, nil
}

func (j *JWTAuth) claimsFromRequest(r *http.Request) (*JWTClaims, error) {
	token, err := bearerToken(r)
	if err != nil {
		return nil, err
	}
	claims, err := j.ValidateToken(token)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// GetDeviceID returns the did claim (implements ClientAuthenticator)
func (j *JWTAuth) GetDeviceID(r *http.Request) (string, error) {
	claims, err := j.claimsFromRequest(r)
	if err != nil {
		return "", err
	}
	return claims.DeviceID, nil
}

// GetUserID returns the sub claim (implements ClientAuthenticator)
func (j *JWTAuth) GetUserID(r *http.Request) (string, error) {
	claims, err := j.claimsFromRequest(r)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Middleware authenticates the request and puts user and device on its context
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := j.claimsFromRequest(r)
		switch {
		case errors.Is(err, errNoAuthHeader):
			writeError(w, http.StatusUnauthorized, "unauthorized", "Authorization header required")
			return
		case errors.Is(err, errNotBearer):
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid authorization header format")
			return
		case err != nil:
			slog.Warn("JWT validation failed", "error", err, "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.SetAuthContext(r.Context(), claims.Subject, claims.DeviceID)))
	})
}
