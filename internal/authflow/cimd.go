package authflow

import (
	"fmt"
	"net/url"
)

// ClientMetadataDocument represents an OAuth Client ID Metadata Document
// per draft-ietf-oauth-client-id-metadata-document.
//
// When a client uses an HTTPS URL as its client_id, the authorization
// server fetches this document to retrieve the client's metadata. The flow
// engine fetches it too, to validate the hosted document before use.
type ClientMetadataDocument struct {
	// ClientID is the HTTPS URL that identifies this client.
	// REQUIRED: must use the https scheme and include a path component.
	ClientID string `json:"client_id"`

	// ClientName is the human-readable name of the client.
	ClientName string `json:"client_name,omitempty"`

	// ClientURI is the URL of the client's home page.
	ClientURI string `json:"client_uri,omitempty"`

	// RedirectURIs are the redirect URIs for OAuth callbacks.
	// REQUIRED for the authorization code grant.
	RedirectURIs []string `json:"redirect_uris"`

	// GrantTypes are the OAuth grant types the client will use.
	GrantTypes []string `json:"grant_types,omitempty"`

	// ResponseTypes are the OAuth response types the client will use.
	ResponseTypes []string `json:"response_types,omitempty"`

	// TokenEndpointAuthMethod is the authentication method for the token
	// endpoint. "none" for public clients.
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`

	// Scope is the space-separated scope the client intends to request.
	Scope string `json:"scope,omitempty"`
}

// ValidateClientIDURL validates that a client_id URL meets CIMD requirements.
//
// Requirements:
//   - MUST use the https scheme (HTTP is not allowed, even for localhost)
//   - MUST contain a path component (cannot be just https://example.com)
//   - MUST be a valid absolute URL
func ValidateClientIDURL(clientIDURL string) error {
	if clientIDURL == "" {
		return fmt.Errorf("client_id URL cannot be empty")
	}

	parsed, err := url.Parse(clientIDURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if !parsed.IsAbs() {
		return fmt.Errorf("client_id URL must be absolute")
	}

	if parsed.Scheme != schemeHTTPS {
		return fmt.Errorf("client_id URL must use https scheme, got: %s", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("client_id URL missing host")
	}

	if parsed.Path == "" || parsed.Path == "/" {
		return fmt.Errorf("client_id URL must contain a path component (cannot be just https://%s)", parsed.Host)
	}

	return nil
}

// ValidateClientMetadata validates a fetched Client ID Metadata Document
// against the client_id URL it was fetched from: the document's client_id
// field must match the URL exactly and redirect URIs must be present.
func ValidateClientMetadata(metadata *ClientMetadataDocument, clientIDURL string) error {
	if err := ValidateClientIDURL(metadata.ClientID); err != nil {
		return fmt.Errorf("invalid client_id: %w", err)
	}

	if metadata.ClientID != clientIDURL {
		return fmt.Errorf("document client_id %q does not match its URL %q", metadata.ClientID, clientIDURL)
	}

	if len(metadata.RedirectURIs) == 0 {
		return fmt.Errorf("redirect_uris is required (at least one)")
	}

	for i, uri := range metadata.RedirectURIs {
		parsed, err := url.Parse(uri)
		if err != nil {
			return fmt.Errorf("invalid redirect_uri at index %d: %w", i, err)
		}

		if !parsed.IsAbs() {
			return fmt.Errorf("redirect_uri at index %d must be absolute: %s", i, uri)
		}

		if parsed.Scheme != schemeHTTP && parsed.Scheme != schemeHTTPS {
			return fmt.Errorf("redirect_uri at index %d must use http or https scheme: %s", i, uri)
		}
	}

	return nil
}

// SupportsClientIDMetadata reports whether the authorization server
// advertises Client ID Metadata Document support.
func SupportsClientIDMetadata(asMetadata *AuthorizationServerMetadata) bool {
	return asMetadata != nil && asMetadata.ClientIDMetadataDocumentSupported
}
