package authflow

import (
	"fmt"
	"net/url"
)

// Config describes one authorization attempt against an MCP server.
type Config struct {
	// Endpoint is the MCP server URL the flow authenticates against.
	Endpoint string

	// Server identifies the target for credential storage and display.
	// If ID is empty it defaults to the endpoint URL.
	Server ServerIdentity

	// Variant selects the authorization spec generation (default: current).
	Variant ProtocolVariant

	// Registration selects how a client identity is obtained (default: dynamic).
	Registration RegistrationMode

	// ClientIDMetadataURL is the HTTPS URL used as client_id in CIMD mode.
	ClientIDMetadataURL string

	// RedirectURL is the OAuth callback URL (default: http://localhost:8765/callback).
	RedirectURL string

	// Scopes to request. When empty, the protected resource's
	// scopes_supported are used if discovered.
	Scopes []string

	// PreferredAuthServer picks a specific entry from the protected
	// resource's authorization_servers list. Empty means first.
	PreferredAuthServer string

	// ClientName is sent in dynamic registration requests.
	ClientName string

	// ClientURI is the client home page sent in dynamic registration requests.
	ClientURI string
}

// WithDefaults returns a copy of the config with defaults applied.
func (c *Config) WithDefaults() *Config {
	out := *c
	if out.Variant == "" {
		out.Variant = VariantCurrent
	}
	if out.Registration == "" {
		out.Registration = RegistrationDynamic
	}
	if out.RedirectURL == "" {
		out.RedirectURL = "http://localhost:8765/callback"
	}
	if out.ClientName == "" {
		out.ClientName = "mcp-authflow"
	}
	if out.Server.ID == "" {
		out.Server.ID = out.Endpoint
	}
	if out.Server.Name == "" {
		out.Server.Name = out.Server.ID
	}
	return &out
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	parsed, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if parsed.Scheme != schemeHTTP && parsed.Scheme != schemeHTTPS {
		return fmt.Errorf("endpoint scheme must be http or https, got: %s", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("endpoint URL missing host")
	}

	switch c.Variant {
	case VariantLegacy, VariantCurrent:
	default:
		return fmt.Errorf("unknown protocol variant: %s", c.Variant)
	}

	switch c.Registration {
	case RegistrationDynamic, RegistrationPreregistered:
	case RegistrationCIMD:
		if err := ValidateClientIDURL(c.ClientIDMetadataURL); err != nil {
			return fmt.Errorf("invalid client_id metadata URL: %w", err)
		}
	default:
		return fmt.Errorf("unknown registration mode: %s", c.Registration)
	}

	if c.RedirectURL == "" {
		return fmt.Errorf("redirect URL is required")
	}
	redirect, err := url.Parse(c.RedirectURL)
	if err != nil {
		return fmt.Errorf("invalid redirect URL: %w", err)
	}
	// HTTP redirect URIs are only acceptable for loopback addresses.
	if redirect.Scheme == schemeHTTP {
		hostname := redirect.Hostname()
		if hostname != "localhost" && hostname != "127.0.0.1" && hostname != "::1" {
			return fmt.Errorf("HTTP redirect URIs are only allowed for localhost/127.0.0.1/[::1], use HTTPS for other hosts")
		}
	} else if redirect.Scheme != schemeHTTPS {
		return fmt.Errorf("redirect URI scheme must be http (localhost only) or https, got: %s", redirect.Scheme)
	}

	return nil
}
