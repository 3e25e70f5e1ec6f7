package authflow

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// AuthorizationServerMetadata represents OAuth 2.0 Authorization Server
// Metadata as defined in RFC 8414 and OpenID Connect Discovery 1.0.
type AuthorizationServerMetadata struct {
	// Issuer is the authorization server's issuer identifier URL.
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL for the authorization endpoint.
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL for the token endpoint.
	TokenEndpoint string `json:"token_endpoint"`

	// RegistrationEndpoint is the URL for Dynamic Client Registration (optional).
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`

	// CodeChallengeMethods lists supported PKCE code challenge methods.
	// The 2025-06-18 spec requires this field to be present and include "S256".
	CodeChallengeMethods []string `json:"code_challenge_methods_supported,omitempty"`

	// ClientIDMetadataDocumentSupported indicates support for Client ID
	// Metadata Documents.
	ClientIDMetadataDocumentSupported bool `json:"client_id_metadata_document_supported,omitempty"`

	// ScopesSupported lists supported OAuth scopes (optional).
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// ResponseTypesSupported lists supported OAuth response types.
	ResponseTypesSupported []string `json:"response_types_supported,omitempty"`

	// GrantTypesSupported lists supported OAuth grant types.
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`

	// TokenEndpointAuthMethodsSupported lists supported token endpoint auth methods.
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// isLocalhost checks if the given host is localhost or a loopback address.
func isLocalhost(host string) bool {
	return host == "localhost" ||
		strings.HasPrefix(host, "localhost:") ||
		host == "127.0.0.1" ||
		strings.HasPrefix(host, "127.0.0.1:") ||
		host == "[::1]" ||
		strings.HasPrefix(host, "[::1]:")
}

// ValidateASMetadata validates authorization server metadata structure and
// checks for required fields per RFC 8414 Section 3. The authorization-code
// grant additionally requires "code" in response_types_supported; a document
// that omits the field entirely is rejected the same as one that lists other
// response types only.
//
// A validation failure here is fatal for the flow: without these fields no
// authorization request can be built.
func ValidateASMetadata(metadata *AuthorizationServerMetadata) error {
	if metadata.Issuer == "" {
		return fmt.Errorf("missing required field: issuer")
	}

	if metadata.AuthorizationEndpoint == "" {
		return fmt.Errorf("missing required field: authorization_endpoint")
	}

	if metadata.TokenEndpoint == "" {
		return fmt.Errorf("missing required field: token_endpoint")
	}

	if !slices.Contains(metadata.ResponseTypesSupported, responseTypeCode) {
		return fmt.Errorf("response_types_supported must include %q (got: %v)", responseTypeCode, metadata.ResponseTypesSupported)
	}

	endpoints := map[string]string{
		"issuer":                 metadata.Issuer,
		"authorization_endpoint": metadata.AuthorizationEndpoint,
		"token_endpoint":         metadata.TokenEndpoint,
	}

	if metadata.RegistrationEndpoint != "" {
		endpoints["registration_endpoint"] = metadata.RegistrationEndpoint
	}

	for name, endpoint := range endpoints {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return fmt.Errorf("invalid %s URL: %w", name, err)
		}

		if !parsed.IsAbs() {
			return fmt.Errorf("%s must be absolute URL: %s", name, endpoint)
		}

		// HTTPS required; HTTP is only allowed for localhost.
		if parsed.Scheme == schemeHTTP {
			if !isLocalhost(parsed.Host) {
				return fmt.Errorf("%s must use https scheme (http only allowed for localhost): %s", name, endpoint)
			}
		} else if parsed.Scheme != schemeHTTPS {
			return fmt.Errorf("%s must use http or https scheme: %s", name, endpoint)
		}

		if parsed.Host == "" {
			return fmt.Errorf("%s missing host: %s", name, endpoint)
		}
	}

	return nil
}

// ValidatePKCESupport checks that the authorization server advertises the
// S256 code challenge method.
//
// Returns a *PKCEUnsupportedError if code_challenge_methods_supported is
// absent, empty, or does not include S256. Under the 2025-06-18 variant the
// caller treats this as fatal; under the legacy variant it is logged as a
// warning and the flow proceeds.
func ValidatePKCESupport(metadata *AuthorizationServerMetadata) error {
	if len(metadata.CodeChallengeMethods) == 0 {
		return &PKCEUnsupportedError{}
	}

	if !slices.Contains(metadata.CodeChallengeMethods, pkceMethodS256) {
		return &PKCEUnsupportedError{Advertised: metadata.CodeChallengeMethods}
	}

	return nil
}

// SynthesizeASMetadata builds default authorization server metadata for the
// legacy variant when no discovery endpoint responded: the base URL becomes
// the issuer and the RFC-default endpoint paths are assumed.
func SynthesizeASMetadata(baseURL string) (*AuthorizationServerMetadata, error) {
	base, _, err := splitEndpoint(baseURL)
	if err != nil {
		return nil, err
	}

	return &AuthorizationServerMetadata{
		Issuer:                 base,
		AuthorizationEndpoint:  base + "/authorize",
		TokenEndpoint:          base + "/token",
		RegistrationEndpoint:   base + "/register",
		ResponseTypesSupported: []string{responseTypeCode},
		CodeChallengeMethods:   []string{pkceMethodS256},
	}, nil
}
