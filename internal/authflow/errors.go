package authflow

import (
	"errors"
	"fmt"
)

// Sentinel errors for consistent handling across the package.
var (
	// ErrUserInputRequired indicates the flow is paused waiting for the user
	// to supply an authorization code.
	ErrUserInputRequired = errors.New("authorization code required: complete the authorization request in a browser and submit the code")

	// ErrNoStoredCredentials indicates pre-registered mode was selected but
	// no client credentials exist for the server in the credential store.
	ErrNoStoredCredentials = errors.New("no stored client credentials for server")

	// ErrFlowSuperseded indicates the flow state was reset while a step was
	// in flight; the step's result has been discarded.
	ErrFlowSuperseded = errors.New("flow was reset while step was in flight")
)

// DiscoveryError indicates that no metadata candidate endpoint yielded a
// valid document, or that a required metadata field is missing.
type DiscoveryError struct {
	Candidates []string
	Reason     string
	Err        error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("metadata discovery failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("metadata discovery failed: %s", e.Reason)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// RegistrationError indicates a dynamic registration endpoint error or a
// Client ID Metadata Document validation mismatch.
type RegistrationError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *RegistrationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("client registration failed (status %d): %s", e.StatusCode, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("client registration failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("client registration failed: %s", e.Reason)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// PKCEUnsupportedError indicates the authorization server does not advertise
// the required S256 code challenge method. Fatal under the current spec
// variant, warning-only under the legacy variant.
type PKCEUnsupportedError struct {
	Advertised []string
}

func (e *PKCEUnsupportedError) Error() string {
	if len(e.Advertised) == 0 {
		return "authorization server does not advertise PKCE support (code_challenge_methods_supported missing or empty)"
	}
	return fmt.Sprintf("authorization server does not support the S256 code challenge method (advertised: %v)", e.Advertised)
}

// TokenExchangeError indicates the token endpoint returned a non-2xx
// response or a required exchange input (such as the code verifier) is
// missing.
type TokenExchangeError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token exchange failed: %v", e.Err)
	}
	return fmt.Sprintf("token exchange failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// TransportError indicates a connection-level failure on an outbound call.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
