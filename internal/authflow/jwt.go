package authflow

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// timestampClaims are reformatted for display as "<raw> (<human-readable>)".
var timestampClaims = []string{"exp", "iat", "nbf", "auth_time"}

// DecodeTokenClaims decodes a JWT's payload without verifying its signature.
// This is a debugging aid, not a trust boundary: the claims are displayed so
// a developer can see what the server issued, never to authorize anything.
//
// Numeric timestamp claims (exp, iat, nbf, auth_time) are reformatted as
// "<raw> (<human-readable>)".
func DecodeTokenClaims(raw string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}

	out := make(map[string]any, len(claims))
	for k, v := range claims {
		out[k] = v
	}

	for _, name := range timestampClaims {
		if v, ok := out[name]; ok {
			if ts, ok := numericClaim(v); ok {
				out[name] = fmt.Sprintf("%d (%s)", ts, time.Unix(ts, 0).UTC().Format(time.RFC3339))
			}
		}
	}

	return out, nil
}

// InspectAccessToken decodes an access token's claims and appends a
// "_validation" annotation comparing the token's aud claim against the
// canonical resource URI the token will be presented to.
func InspectAccessToken(raw, canonicalResource string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}

	out, err := DecodeTokenClaims(raw)
	if err != nil {
		return nil, err
	}

	out["_validation"] = validateAudience(claims, canonicalResource)
	return out, nil
}

// validateAudience checks the aud claim (scalar or array) against the
// canonical resource URI.
func validateAudience(claims jwt.MapClaims, canonicalResource string) map[string]any {
	audiences, present := audienceValues(claims["aud"])
	if !present {
		return map[string]any{
			"warning": "token has no audience claim (aud); cannot confirm the token is bound to this resource",
		}
	}

	for _, aud := range audiences {
		if aud == canonicalResource {
			return map[string]any{"audience_matches": true}
		}
	}

	return map[string]any{
		"audience_matches": false,
		"note": fmt.Sprintf("token audience %v does not match the canonical resource %q; presenting it here risks token misuse across servers",
			audiences, canonicalResource),
	}
}

// audienceValues normalizes an aud claim into a string slice. The claim may
// be a single string or an array of strings.
func audienceValues(v any) ([]string, bool) {
	switch aud := v.(type) {
	case string:
		if aud == "" {
			return nil, false
		}
		return []string{aud}, true
	case []any:
		var out []string
		for _, item := range aud {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, len(out) > 0
	case []string:
		return aud, len(aud) > 0
	default:
		return nil, false
	}
}

// numericClaim converts a JSON-decoded numeric claim to a unix timestamp.
func numericClaim(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
