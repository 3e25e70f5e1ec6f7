package credstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestClientRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetClient("srv-1", "")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SetClient("srv-1", &ClientRecord{
		ClientID:                "client-1",
		ClientSecret:            "secret",
		TokenEndpointAuthMethod: "client_secret_post",
	}))

	rec, err := store.GetClient("srv-1", "")
	require.NoError(t, err)
	assert.Equal(t, "client-1", rec.ClientID)
	assert.Equal(t, "secret", rec.ClientSecret)
	assert.False(t, rec.Created.IsZero())
	assert.False(t, rec.Updated.IsZero())

	require.NoError(t, store.RemoveClient("srv-1"))
	_, err = store.GetClient("srv-1", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLegacyNameMigration(t *testing.T) {
	store := newTestStore(t)

	// A record written under the old display-name key.
	require.NoError(t, store.SetClient("My Server", &ClientRecord{ClientID: "client-1"}))

	// Reading with the stable id plus legacy name finds and migrates it.
	rec, err := store.GetClient("https://mcp.example.com/mcp", "My Server")
	require.NoError(t, err)
	assert.Equal(t, "client-1", rec.ClientID)

	// The legacy key is gone; the id key answers on its own now.
	_, err = store.GetClient("My Server", "")
	assert.ErrorIs(t, err, ErrNotFound)

	rec, err = store.GetClient("https://mcp.example.com/mcp", "")
	require.NoError(t, err)
	assert.Equal(t, "client-1", rec.ClientID)
}

func TestTokenRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetTokens("srv-1", &TokenRecord{
		AccessToken:  "at",
		RefreshToken: "rt",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
	}))

	rec, err := store.GetTokens("srv-1", "")
	require.NoError(t, err)
	assert.Equal(t, "at", rec.AccessToken)
	assert.Equal(t, "rt", rec.RefreshToken)
	assert.Equal(t, int64(3600), rec.ExpiresIn)

	require.NoError(t, store.RemoveTokens("srv-1"))
	_, err = store.GetTokens("srv-1", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifierRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetVerifier("srv-1", "verifier-value"))

	verifier, err := store.GetVerifier("srv-1", "")
	require.NoError(t, err)
	assert.Equal(t, "verifier-value", verifier)

	require.NoError(t, store.RemoveVerifier("srv-1"))
	_, err = store.GetVerifier("srv-1", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordsAreIsolatedPerServer(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetClient("srv-1", &ClientRecord{ClientID: "client-1"}))
	require.NoError(t, store.SetClient("srv-2", &ClientRecord{ClientID: "client-2"}))

	rec, err := store.GetClient("srv-1", "")
	require.NoError(t, err)
	assert.Equal(t, "client-1", rec.ClientID)

	require.NoError(t, store.RemoveClient("srv-1"))

	rec, err = store.GetClient("srv-2", "")
	require.NoError(t, err)
	assert.Equal(t, "client-2", rec.ClientID)
}
