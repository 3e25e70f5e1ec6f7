package authflow

import (
	"fmt"
	"net/url"
	"strings"
)

// ProtectedResourceMetadata represents OAuth 2.0 Protected Resource Metadata
// as defined in RFC 9728.
type ProtectedResourceMetadata struct {
	// Resource is the protected resource identifier.
	Resource string `json:"resource"`

	// AuthorizationServers lists the authorization servers for this resource.
	AuthorizationServers []string `json:"authorization_servers"`

	// ScopesSupported lists the OAuth scopes supported by this resource.
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// BearerMethodsSupported indicates how bearer tokens can be presented.
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`

	// ResourceDocumentation provides a human-readable documentation URL.
	ResourceDocumentation string `json:"resource_documentation,omitempty"`
}

// WWWAuthenticateChallenge represents parsed WWW-Authenticate header
// information per RFC 6750 and RFC 9728.
type WWWAuthenticateChallenge struct {
	// Scheme is the authentication scheme (typically "Bearer").
	Scheme string

	// ResourceMetadataURL is the URL to fetch protected resource metadata.
	ResourceMetadataURL string

	// Scopes are the required scopes for this resource.
	Scopes []string

	// Error indicates the error type (e.g. "insufficient_scope").
	Error string

	// ErrorDescription provides human-readable error details.
	ErrorDescription string
}

// ParseWWWAuthenticate parses a WWW-Authenticate header value and extracts
// OAuth challenge parameters.
//
// Example header:
//
//	WWW-Authenticate: Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource",
//	                         scope="files:read",
//	                         error="insufficient_scope"
func ParseWWWAuthenticate(header string) (*WWWAuthenticateChallenge, error) {
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	// SplitN always returns at least one element.
	parts := strings.SplitN(header, " ", 2)

	challenge := &WWWAuthenticateChallenge{
		Scheme: parts[0],
	}

	if len(parts) == 2 {
		params := parseAuthParams(parts[1])
		challenge.ResourceMetadataURL = params["resource_metadata"]
		challenge.Error = params["error"]
		challenge.ErrorDescription = params["error_description"]

		if scopeParam := params["scope"]; scopeParam != "" {
			challenge.Scopes = strings.Fields(scopeParam)
		}
	}

	return challenge, nil
}

// parseAuthParams parses OAuth authentication parameters from the challenge.
// Handles both quoted and unquoted values.
// Format: key1="value1", key2="value2", key3=value3
func parseAuthParams(params string) map[string]string {
	result := make(map[string]string)

	parts := splitPreservingQuotes(params, ',')

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		eqIdx := strings.Index(part, "=")
		if eqIdx == -1 {
			continue
		}

		key := strings.TrimSpace(part[:eqIdx])
		value := strings.TrimSpace(part[eqIdx+1:])

		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}

		if key != "" {
			result[key] = value
		}
	}

	return result
}

// splitPreservingQuotes splits a string by delimiter but preserves quoted sections.
func splitPreservingQuotes(s string, delimiter byte) []string {
	var result []string
	var current strings.Builder
	inQuotes := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		switch {
		case ch == '"':
			inQuotes = !inQuotes
			current.WriteByte(ch)
		case ch == delimiter && !inQuotes:
			result = append(result, current.String())
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// normalizePath removes leading and trailing slashes from a URL path.
func normalizePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	return strings.TrimSuffix(p, "/")
}

// splitEndpoint validates an endpoint URL and returns its origin
// (scheme://host) and normalized path.
func splitEndpoint(endpoint string) (base, path string, err error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", "", fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", "", fmt.Errorf("endpoint URL must include scheme and host")
	}
	return fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host), normalizePath(parsed.Path), nil
}

// BuildResourceMetadataURLs constructs the well-known URLs for protected
// resource metadata per RFC 9728 Section 3, in priority order: path
// insertion first when the endpoint has a path, then the root-level path.
func BuildResourceMetadataURLs(endpoint string) ([]string, error) {
	base, path, err := splitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	var urls []string
	if path != "" {
		urls = append(urls, base+wellKnownProtectedResource+"/"+path)
	}
	urls = append(urls, base+wellKnownProtectedResource)

	return urls, nil
}

// BuildASMetadataURLs constructs authorization server metadata discovery
// candidates for the given issuer URL, in the order mandated by the
// protocol variant.
//
// Current variant (2025-06-18), issuer with a path component:
//  1. OAuth 2.0 with path insertion: https://host/.well-known/oauth-authorization-server/path
//  2. OIDC with path insertion: https://host/.well-known/openid-configuration/path
//  3. OIDC path appending: https://host/path/.well-known/openid-configuration
//
// There is deliberately no root-level fallback for the current variant;
// RFC 8414 ties the metadata location to the issuer's path.
//
// Legacy variant (2025-03-26), issuer with a path component:
//  1. OAuth 2.0 with path insertion
//  2. OAuth 2.0 at the root (fallback)
//
// Issuers without a path component probe the root-level OAuth path, plus
// the root-level OIDC path under the current variant.
func BuildASMetadataURLs(issuerURL string, variant ProtocolVariant) ([]string, error) {
	base, path, err := splitEndpoint(issuerURL)
	if err != nil {
		return nil, err
	}

	var urls []string
	switch variant {
	case VariantCurrent:
		if path != "" {
			urls = append(urls,
				base+wellKnownOAuthAS+"/"+path,
				base+wellKnownOpenIDConfig+"/"+path,
				base+"/"+path+wellKnownOpenIDConfig,
			)
		} else {
			urls = append(urls,
				base+wellKnownOAuthAS,
				base+wellKnownOpenIDConfig,
			)
		}
	case VariantLegacy:
		if path != "" {
			urls = append(urls, base+wellKnownOAuthAS+"/"+path)
		}
		urls = append(urls, base+wellKnownOAuthAS)
	default:
		return nil, fmt.Errorf("unknown protocol variant: %s", variant)
	}

	return urls, nil
}

// ValidateProtectedResourceMetadata validates that required fields are
// present and authorization server URLs are absolute http(s) URLs per
// RFC 9728.
func ValidateProtectedResourceMetadata(metadata *ProtectedResourceMetadata) error {
	if metadata.Resource == "" {
		return fmt.Errorf("missing required field: resource")
	}

	if len(metadata.AuthorizationServers) == 0 {
		return fmt.Errorf("missing required field: authorization_servers (at least one required)")
	}

	for i, asURL := range metadata.AuthorizationServers {
		parsed, err := url.Parse(asURL)
		if err != nil {
			return fmt.Errorf("invalid authorization server URL at index %d: %w", i, err)
		}

		if !parsed.IsAbs() {
			return fmt.Errorf("authorization server URL at index %d must be absolute: %s", i, asURL)
		}

		if parsed.Scheme != schemeHTTPS && parsed.Scheme != schemeHTTP {
			return fmt.Errorf("authorization server URL at index %d must use http or https scheme: %s", i, asURL)
		}

		if parsed.Host == "" {
			return fmt.Errorf("authorization server URL at index %d missing host: %s", i, asURL)
		}
	}

	return nil
}

// SelectAuthorizationServer selects an authorization server from the
// metadata. If preferred is set and present in the list it wins; otherwise
// the first server is used per the RFC 9728 Section 3 recommendation.
func SelectAuthorizationServer(metadata *ProtectedResourceMetadata, preferred string) (string, error) {
	if len(metadata.AuthorizationServers) == 0 {
		return "", fmt.Errorf("no authorization servers available")
	}

	if preferred != "" {
		for _, server := range metadata.AuthorizationServers {
			if server == preferred {
				return server, nil
			}
		}
		return "", fmt.Errorf("preferred authorization server not found: %s", preferred)
	}

	return metadata.AuthorizationServers[0], nil
}
