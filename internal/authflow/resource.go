package authflow

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// CanonicalResourceURI derives the canonical resource URI for an MCP
// endpoint per RFC 8707 (Resource Indicators for OAuth 2.0).
//
// Canonicalization rules:
//   - Lowercase scheme and host (path casing is preserved)
//   - Omit default ports (80 for http, 443 for https)
//   - Strip query and fragment
//   - Strip the trailing slash unless the path is just "/"
//
// The same canonical form is used for the resource parameter on the
// authorization and token requests and for audience validation, so the
// three stay consistent.
func CanonicalResourceURI(endpoint string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	if parsed.Scheme == "" {
		return "", fmt.Errorf("endpoint URL missing scheme: %s", endpoint)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("endpoint URL missing host: %s", endpoint)
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Host)

	hostname, port, err := net.SplitHostPort(host)
	if err != nil {
		// No port in the host.
		hostname = host
		port = ""
	}

	omitPort := (scheme == schemeHTTPS && port == "443") || (scheme == schemeHTTP && port == "80")

	// net.SplitHostPort strips brackets from IPv6 addresses; restore them.
	if strings.Contains(hostname, ":") {
		if omitPort || port == "" {
			host = "[" + hostname + "]"
		} else {
			host = "[" + hostname + "]:" + port
		}
	} else {
		if omitPort || port == "" {
			host = hostname
		} else {
			host = hostname + ":" + port
		}
	}

	path := parsed.Path
	if path != "/" && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}

	return scheme + "://" + host + path, nil
}
