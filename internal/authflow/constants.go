package authflow

// URL scheme constants for validation.
const (
	schemeHTTPS = "https"
	schemeHTTP  = "http"
)

// PKCE code challenge method constant.
const pkceMethodS256 = "S256"

// Well-known discovery path segments.
const (
	wellKnownOAuthAS           = "/.well-known/oauth-authorization-server"
	wellKnownOpenIDConfig      = "/.well-known/openid-configuration"
	wellKnownProtectedResource = "/.well-known/oauth-protected-resource"
)

// fallbackClientID is substituted when dynamic client registration fails,
// so the remainder of the flow can still be exercised for debugging.
const fallbackClientID = "mcp-authflow-fallback-client"

// userAgent identifies this tool on outbound requests.
const userAgent = "mcp-authflow/1.0"

// responseTypeCode is the only response type used by the authorization-code grant.
const responseTypeCode = "code"

// grantTypeAuthorizationCode is the grant type sent on token requests.
const grantTypeAuthorizationCode = "authorization_code"

// MCP protocol method used for the final authenticated probe.
const methodInitialize = "initialize"
