// Package authflow implements an OAuth 2.0 authorization-code flow engine
// for debugging authentication against MCP servers.
//
// The engine drives a single authorization attempt as an explicit state
// machine: unauthenticated probe, protected-resource and authorization-server
// metadata discovery (RFC 9728 / RFC 8414 / OIDC Discovery), client identity
// acquisition (dynamic registration per RFC 7591, Client ID Metadata
// Documents, or pre-registered credentials), PKCE (RFC 7636), authorization
// code capture, token exchange with RFC 8707 resource binding, and a final
// authenticated MCP initialize handshake with audience validation.
//
// Two generations of the MCP authorization spec are supported and differ in
// discovery rules and strictness; see ProtocolVariant.
//
// Every network transaction goes through an injected Relay and is recorded
// in the flow state for inspection. The engine never verifies token
// signatures; decoded claims are a debugging aid, not a trust boundary.
package authflow
