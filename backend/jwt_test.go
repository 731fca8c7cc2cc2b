package backend

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/internal/auth"
)

func TestJWTAuth_GenerateAndValidate(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")

	token, err := jwtAuth.GenerateToken("craftsman-1", "tablet-7", time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	claims, err := jwtAuth.ValidateToken(token)
	if err != nil {
		t.Fatalf("Failed to validate generated token: %v", err)
	}
	if claims.Subject != "craftsman-1" {
		t.Errorf("Expected subject craftsman-1, got %s", claims.Subject)
	}
	if claims.DeviceID != "tablet-7" {
		t.Errorf("Expected device tablet-7, got %s", claims.DeviceID)
	}
	if claims.Issuer != TokenIssuer {
		t.Errorf("Expected issuer %s, got %s", TokenIssuer, claims.Issuer)
	}
	if d := claims.ExpiresAt.Time.Sub(time.Now().Add(time.Hour)).Abs(); d > time.Second {
		t.Errorf("Token expiry off by %v", d)
	}
}

func TestJWTAuth_Rejects(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")

	other, err := NewJWTAuth("other-secret").GenerateToken("u", "d", time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	expired, err := jwtAuth.GenerateToken("u", "d", -time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	sign := func(claims *JWTClaims) string {
		t.Helper()
		claims.Issuer = TokenIssuer
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtAuth.secret)
		if err != nil {
			t.Fatalf("Failed to sign token: %v", err)
		}
		return tok
	}
	noDevice := sign(&JWTClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}})
	noSubject := sign(&JWTClaims{DeviceID: "d"})
	foreignIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		DeviceID: "d",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "u",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwtAuth.secret)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		DeviceID:         "d",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: TokenIssuer, Subject: "u"},
	}).SignedString(jwtAuth.secret)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &JWTClaims{
		DeviceID: "d",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   "u",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwtAuth.secret)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	testCases := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed", "not.a.jwt"},
		{"wrong secret", other},
		{"expired", expired},
		{"missing device", noDevice},
		{"missing subject", noSubject},
		{"foreign issuer", foreignIssuer},
		{"no expiry", noExpiry},
		{"wrong algorithm", hs512},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := jwtAuth.ValidateToken(tc.token); err == nil {
				t.Errorf("Expected validation to fail for %s", tc.name)
			}
		})
	}
}

func TestJWTAuth_Leeway(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")

	justExpired, err := jwtAuth.GenerateToken("u", "d", -30*time.Second)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if _, err := jwtAuth.ValidateToken(justExpired); err != nil {
		t.Errorf("Expected token within leeway to validate: %v", err)
	}
	if _, err := jwtAuth.WithLeeway(0).ValidateToken(justExpired); err == nil {
		t.Errorf("Expected expired token to fail without leeway")
	}
}

func TestJWTAuth_GenerateRequiresIdentity(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")
	if _, err := jwtAuth.GenerateToken("", "d", time.Hour); err == nil {
		t.Errorf("Expected error for empty user")
	}
	if _, err := jwtAuth.GenerateToken("u", "", time.Hour); err == nil {
		t.Errorf("Expected error for empty device")
	}
}

func TestJWTAuth_Middleware(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")
	token, err := jwtAuth.GenerateToken("u1", "d1", time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	var gotUser, gotDevice string
	handler := jwtAuth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = auth.GetUserID(r.Context())
		gotDevice, _ = auth.GetDeviceID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	testCases := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusNoContent},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/rest/customers", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("Expected status %d, got %d", tc.status, rec.Code)
			}
		})
	}
	if gotUser != "u1" || gotDevice != "d1" {
		t.Errorf("Expected auth context u1/d1, got %s/%s", gotUser, gotDevice)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if id, err := jwtAuth.GetDeviceID(req); err != nil || id != "d1" {
		t.Errorf("GetDeviceID = %q, %v", id, err)
	}
	if id, err := jwtAuth.GetUserID(req); err != nil || id != "u1" {
		t.Errorf("GetUserID = %q, %v", id, err)
	}
}
