package authflow

import (
	"github.com/giantswarm/mcp-authflow/internal/credstore"
)

// CredentialStore persists per-server client credentials, tokens and the
// PKCE verifier across flow runs. Lookups take the stable server id plus
// the display name so the store can migrate records written under the
// legacy name-based key; that migration happens inside the store, callers
// never see the dual-key scheme.
//
// Implemented by *credstore.Store. A nil store disables persistence:
// credentials and tokens live only in the flow state, and pre-registered
// mode fails with ErrNoStoredCredentials.
type CredentialStore interface {
	GetClient(id, legacyName string) (*credstore.ClientRecord, error)
	SetClient(id string, rec *credstore.ClientRecord) error
	RemoveClient(id string) error

	GetTokens(id, legacyName string) (*credstore.TokenRecord, error)
	SetTokens(id string, rec *credstore.TokenRecord) error
	RemoveTokens(id string) error

	GetVerifier(id, legacyName string) (string, error)
	SetVerifier(id, verifier string) error
	RemoveVerifier(id string) error
}
