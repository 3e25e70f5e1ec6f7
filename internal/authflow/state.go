package authflow

import (
	"time"
)

// Step identifies a position in the authorization flow state machine.
// The set is closed: an unknown value is a programming error, not a runtime
// case, and the driver panics on one.
type Step string

const (
	StepIdle                      Step = "idle"
	StepRequestWithoutToken       Step = "request_without_token"
	StepReceived401Unauthorized   Step = "received_401_unauthorized"
	StepDiscoveryStart            Step = "discovery_start"
	StepRequestResourceMetadata   Step = "request_resource_metadata"
	StepReceivedResourceMetadata  Step = "received_resource_metadata"
	StepRequestASMetadata         Step = "request_authorization_server_metadata"
	StepReceivedASMetadata        Step = "received_authorization_server_metadata"
	StepRequestClientRegistration Step = "request_client_registration"
	StepCIMDPrepare               Step = "cimd_prepare"
	StepCIMDFetchRequest          Step = "cimd_fetch_request"
	StepCIMDMetadataResponse      Step = "cimd_metadata_response"
	StepReceivedClientCredentials Step = "received_client_credentials"
	StepGeneratePKCEParameters    Step = "generate_pkce_parameters"
	StepAuthorizationRequest      Step = "authorization_request"
	StepReceivedAuthorizationCode Step = "received_authorization_code"
	StepTokenRequest              Step = "token_request"
	StepReceivedAccessToken       Step = "received_access_token"
	StepAuthenticatedMCPRequest   Step = "authenticated_mcp_request"
	StepComplete                  Step = "complete"
)

// ProtocolVariant selects which generation of the MCP authorization spec
// governs discovery rules and strictness.
type ProtocolVariant string

const (
	// VariantLegacy follows the 2025-03-26 authorization spec: no protected
	// resource metadata, root-level discovery fallback, synthesized default
	// endpoints on total discovery failure, and PKCE advertisement is a
	// warning only.
	VariantLegacy ProtocolVariant = "2025-03-26"

	// VariantCurrent follows the 2025-06-18 authorization spec: protected
	// resource metadata discovery, no root discovery fallback, discovery
	// failure is fatal, PKCE advertisement is required, and token requests
	// carry an RFC 8707 resource parameter.
	VariantCurrent ProtocolVariant = "2025-06-18"
)

// RegistrationMode selects how the flow obtains a client identity.
type RegistrationMode string

const (
	// RegistrationDynamic performs RFC 7591 Dynamic Client Registration.
	RegistrationDynamic RegistrationMode = "dynamic"

	// RegistrationCIMD uses an HTTPS URL as the client_id, backed by a
	// hosted Client ID Metadata Document.
	RegistrationCIMD RegistrationMode = "cimd"

	// RegistrationPreregistered loads previously stored credentials for the
	// server from the credential store.
	RegistrationPreregistered RegistrationMode = "preregistered"
)

// ServerIdentity names the MCP server the flow authenticates against.
// ID is stable and keys the credential store; Name is for display and may
// change across sessions.
type ServerIdentity struct {
	ID   string
	Name string
}

// Severity classifies info log entries.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// HTTPRequestRecord is the uniform request shape recorded for every outbound
// call made during the flow.
type HTTPRequestRecord struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// HTTPResponseRecord is the uniform response shape recorded after a call
// resolves.
type HTTPResponseRecord struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// HTTPHistoryEntry records one network transaction. The entry is appended
// before the call is issued; Response, Duration and Err are patched exactly
// once after the call resolves.
type HTTPHistoryEntry struct {
	ID        string
	Step      Step
	StartedAt time.Time
	Request   HTTPRequestRecord
	Response  *HTTPResponseRecord
	Duration  time.Duration
	Err       string
}

// InfoLogEntry is a human-readable annotation attached to a step.
type InfoLogEntry struct {
	ID        string
	Step      Step
	Label     string
	Payload   map[string]any
	Severity  Severity
	Timestamp time.Time
}

// FlowState is the single mutable aggregate describing one authorization
// attempt. It is owned by the Store; callers observe it through Snapshot.
type FlowState struct {
	CurrentStep Step
	Server      ServerIdentity

	// Discovered values.
	ResourceMetadata    *ProtectedResourceMetadata
	ResourceMetadataURL string
	WWWAuthenticate     string
	ASMetadata          *AuthorizationServerMetadata

	// Client identity.
	ClientID                string
	ClientSecret            string
	TokenEndpointAuthMethod string

	// PKCE parameters.
	CodeVerifier    string
	CodeChallenge   string
	ChallengeMethod string
	OAuthState      string

	// Authorization.
	AuthorizationURL  string
	AuthorizationCode string

	// Tokens.
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64

	History []HTTPHistoryEntry
	InfoLog []InfoLogEntry

	// Err holds the last error message. Non-fatal: the flow may continue or
	// require user action depending on the step.
	Err string
}

// clone returns a deep copy of the state. Metadata pointers are copied by
// value so a snapshot cannot alias store-owned data.
func (s *FlowState) clone() FlowState {
	out := *s

	if s.ResourceMetadata != nil {
		rm := *s.ResourceMetadata
		rm.AuthorizationServers = append([]string(nil), s.ResourceMetadata.AuthorizationServers...)
		rm.ScopesSupported = append([]string(nil), s.ResourceMetadata.ScopesSupported...)
		rm.BearerMethodsSupported = append([]string(nil), s.ResourceMetadata.BearerMethodsSupported...)
		out.ResourceMetadata = &rm
	}
	if s.ASMetadata != nil {
		am := *s.ASMetadata
		am.CodeChallengeMethods = append([]string(nil), s.ASMetadata.CodeChallengeMethods...)
		am.ScopesSupported = append([]string(nil), s.ASMetadata.ScopesSupported...)
		am.ResponseTypesSupported = append([]string(nil), s.ASMetadata.ResponseTypesSupported...)
		am.GrantTypesSupported = append([]string(nil), s.ASMetadata.GrantTypesSupported...)
		am.TokenEndpointAuthMethodsSupported = append([]string(nil), s.ASMetadata.TokenEndpointAuthMethodsSupported...)
		out.ASMetadata = &am
	}

	out.History = make([]HTTPHistoryEntry, len(s.History))
	for i, h := range s.History {
		out.History[i] = h.clone()
	}
	out.InfoLog = make([]InfoLogEntry, len(s.InfoLog))
	for i, e := range s.InfoLog {
		out.InfoLog[i] = e.clone()
	}

	return out
}

func (h HTTPHistoryEntry) clone() HTTPHistoryEntry {
	out := h
	out.Request.Headers = copyStringMap(h.Request.Headers)
	if h.Response != nil {
		resp := *h.Response
		resp.Headers = copyStringMap(h.Response.Headers)
		out.Response = &resp
	}
	return out
}

func (e InfoLogEntry) clone() InfoLogEntry {
	out := e
	if e.Payload != nil {
		out.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			out.Payload[k] = v
		}
	}
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
