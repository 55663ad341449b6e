package auth

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
)

// signToken builds a compact token the way the backend would.
func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret-not-known-here"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return tok
}

// =========================================================================
// DECODE TESTS
// =========================================================================

func TestDecodeUnverified_AllClaims(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{"sub": "42", "role": "ADMIN", "name": "Ana"})

	c, err := DecodeUnverified(tok)
	if err != nil {
		t.Fatalf("DecodeUnverified() error = %v", err)
	}
	want := Claims{Subject: "42", Role: model.RoleAdmin, Name: "Ana"}
	if c != want {
		t.Errorf("DecodeUnverified() = %+v, want %+v", c, want)
	}
}

func TestDecodeUnverified_Defaults(t *testing.T) {
	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   Claims
	}{
		{
			name:   "missing role decodes as customer",
			claims: jwt.MapClaims{"sub": "7", "name": "Bo"},
			want:   Claims{Subject: "7", Role: model.RoleCustomer, Name: "Bo"},
		},
		{
			name:   "unknown role decodes as customer",
			claims: jwt.MapClaims{"sub": "7", "role": "SUPERUSER", "name": "Bo"},
			want:   Claims{Subject: "7", Role: model.RoleCustomer, Name: "Bo"},
		},
		{
			name:   "missing name falls back to subject",
			claims: jwt.MapClaims{"sub": "7", "role": "customer"},
			want:   Claims{Subject: "7", Role: model.RoleCustomer, Name: "7"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeUnverified(signToken(t, tt.claims))
			if err != nil {
				t.Fatalf("DecodeUnverified() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeUnverified() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeUnverified_IgnoresSignature(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{"sub": "42", "role": "CUSTOMER", "name": "Ana"})
	tampered := tok[:len(tok)-3] + "xxx"

	if _, err := DecodeUnverified(tampered); err != nil {
		t.Fatalf("DecodeUnverified() must not verify signatures, got %v", err)
	}
}

func TestDecodeUnverified_Malformed(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	notJSON := base64.RawURLEncoding.EncodeToString([]byte(`not json`))

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "one segment", token: "abc"},
		{name: "payload not base64", token: header + ".!!!.sig"},
		{name: "payload not json", token: header + "." + notJSON + ".sig"},
		{name: "missing sub", token: signToken(t, jwt.MapClaims{"role": "ADMIN", "name": "Ana"})},
		{name: "blank sub", token: signToken(t, jwt.MapClaims{"sub": "  ", "name": "Ana"})},
		{name: "numeric sub", token: signToken(t, jwt.MapClaims{"sub": 42})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeUnverified(tt.token)
			if err == nil {
				t.Fatal("DecodeUnverified() should fail")
			}
			var mt *MalformedTokenError
			if !errors.As(err, &mt) {
				t.Errorf("error = %T, want *MalformedTokenError", err)
			}
			if !errors.Is(err, apperror.ErrMalformed) {
				t.Errorf("error %v should match apperror.ErrMalformed", err)
			}
			if !IsMalformed(err) {
				t.Error("IsMalformed() = false")
			}
		})
	}
}
