package authflow

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

// makeUnsignedJWT builds a JWT-shaped token with the given claims and a
// placeholder signature. The decoder never verifies signatures.
func makeUnsignedJWT(t *testing.T, claims map[string]any) string {
	t.Helper()

	header := map[string]any{"alg": "RS256", "typ": "JWT"}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("failed to marshal header: %v", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("failed to marshal claims: %v", err)
	}

	return base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("sig"))
}

func TestDecodeTokenClaims(t *testing.T) {
	token := makeUnsignedJWT(t, map[string]any{
		"sub": "user-1",
		"iss": "https://auth.example.com",
		"exp": 1750000000,
	})

	claims, err := DecodeTokenClaims(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if claims["sub"] != "user-1" {
		t.Errorf("sub = %v, want user-1", claims["sub"])
	}
	if claims["iss"] != "https://auth.example.com" {
		t.Errorf("iss = %v, want https://auth.example.com", claims["iss"])
	}

	exp, ok := claims["exp"].(string)
	if !ok {
		t.Fatalf("exp should be reformatted as a string, got %T", claims["exp"])
	}
	if !strings.HasPrefix(exp, "1750000000 (") || !strings.HasSuffix(exp, "Z)") {
		t.Errorf("exp = %q, want raw value with RFC3339 annotation", exp)
	}
}

func TestDecodeTokenClaimsOpaqueToken(t *testing.T) {
	if _, err := DecodeTokenClaims("not-a-jwt"); err == nil {
		t.Error("expected error for opaque token")
	}
}

func TestInspectAccessTokenAudience(t *testing.T) {
	const resource = "https://mcp.example.com/mcp"

	tests := []struct {
		name        string
		claims      map[string]any
		wantMatch   any
		wantWarning bool
	}{
		{
			name:      "matching scalar audience",
			claims:    map[string]any{"aud": resource},
			wantMatch: true,
		},
		{
			name:      "matching audience in array",
			claims:    map[string]any{"aud": []string{"https://other.example.com", resource}},
			wantMatch: true,
		},
		{
			name:      "mismatched audience",
			claims:    map[string]any{"aud": "https://other.example.com"},
			wantMatch: false,
		},
		{
			name:        "no audience claim",
			claims:      map[string]any{"sub": "user-1"},
			wantWarning: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := makeUnsignedJWT(t, tt.claims)
			claims, err := InspectAccessToken(token, resource)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			validation, ok := claims["_validation"].(map[string]any)
			if !ok {
				t.Fatalf("_validation missing or wrong type: %v", claims["_validation"])
			}

			if tt.wantWarning {
				if validation["warning"] == nil {
					t.Errorf("expected a warning for absent audience, got %v", validation)
				}
				return
			}

			match, ok := validation["audience_matches"].(bool)
			if !ok {
				t.Fatalf("audience_matches missing: %v", validation)
			}
			if match != tt.wantMatch {
				t.Errorf("audience_matches = %v, want %v", match, tt.wantMatch)
			}
			if !match && validation["note"] == nil {
				t.Error("mismatch should carry an explanatory note")
			}
		})
	}
}
