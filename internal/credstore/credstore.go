// Package credstore persists OAuth client credentials, tokens and PKCE
// verifiers per MCP server in a local bbolt database.
//
// Records are keyed by the server's stable id. Earlier releases keyed them
// by the server's display name; because display names can change while the
// id cannot, reads accept both and transparently migrate a record found
// under the legacy name key to the id key.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Bucket names, one per record kind.
const (
	clientsBucket   = "oauth_clients"
	tokensBucket    = "oauth_tokens"
	verifiersBucket = "oauth_verifiers"
)

// dbFileName is the bolt database file created inside the data directory.
const dbFileName = "credentials.db"

// ErrNotFound indicates no record exists for the server under either key.
var ErrNotFound = errors.New("credstore: record not found")

// ClientRecord stores a client identity obtained by registration or
// configured manually.
type ClientRecord struct {
	ClientID                string    `json:"client_id"`
	ClientSecret            string    `json:"client_secret,omitempty"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method,omitempty"`
	Created                 time.Time `json:"created"`
	Updated                 time.Time `json:"updated"`
}

// TokenRecord stores the tokens from the most recent successful exchange.
type TokenRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresIn    int64     `json:"expires_in,omitempty"`
	Updated      time.Time `json:"updated"`
}

// verifierRecord stores the PKCE code verifier between the authorization
// request and the token exchange.
type verifierRecord struct {
	CodeVerifier string    `json:"code_verifier"`
	Updated      time.Time `json:"updated"`
}

// Store is a bbolt-backed credential store.
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// Open opens (or creates) the credential database inside dataDir.
func Open(dataDir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dbPath := filepath.Join(dataDir, dbFileName)
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}

	store := &Store{
		db:     db,
		logger: logger.Named("credstore"),
	}

	if err := store.initBuckets(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{clientsBucket, tokensBucket, verifiersBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// get reads a record from bucket under id, falling back to the legacy
// name-based key. A record found under the legacy key is rewritten under
// the id key and the legacy entry removed, so the migration happens at most
// once per record.
func (s *Store) get(bucket, id, legacyName string, out any) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}

		data := b.Get([]byte(id))
		if data == nil && legacyName != "" && legacyName != id {
			if legacy := b.Get([]byte(legacyName)); legacy != nil {
				s.logger.Info("migrating record from legacy name key",
					zap.String("bucket", bucket),
					zap.String("id", id),
					zap.String("legacy_key", legacyName))
				if err := b.Put([]byte(id), legacy); err != nil {
					return fmt.Errorf("failed to migrate record: %w", err)
				}
				if err := b.Delete([]byte(legacyName)); err != nil {
					return fmt.Errorf("failed to delete legacy record: %w", err)
				}
				data = legacy
			}
		}
		if data == nil {
			return ErrNotFound
		}

		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode record: %w", err)
		}
		return nil
	})
}

func (s *Store) put(bucket, id string, rec any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}
		return b.Put([]byte(id), data)
	})
}

func (s *Store) remove(bucket, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}
		return b.Delete([]byte(id))
	})
}

// GetClient returns the stored client credentials for the server.
func (s *Store) GetClient(id, legacyName string) (*ClientRecord, error) {
	var rec ClientRecord
	if err := s.get(clientsBucket, id, legacyName, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetClient stores client credentials for the server.
func (s *Store) SetClient(id string, rec *ClientRecord) error {
	now := time.Now()
	if rec.Created.IsZero() {
		rec.Created = now
	}
	rec.Updated = now
	return s.put(clientsBucket, id, rec)
}

// RemoveClient deletes the client credentials for the server.
func (s *Store) RemoveClient(id string) error {
	return s.remove(clientsBucket, id)
}

// GetTokens returns the stored tokens for the server.
func (s *Store) GetTokens(id, legacyName string) (*TokenRecord, error) {
	var rec TokenRecord
	if err := s.get(tokensBucket, id, legacyName, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetTokens stores tokens for the server.
func (s *Store) SetTokens(id string, rec *TokenRecord) error {
	rec.Updated = time.Now()
	return s.put(tokensBucket, id, rec)
}

// RemoveTokens deletes the tokens for the server.
func (s *Store) RemoveTokens(id string) error {
	return s.remove(tokensBucket, id)
}

// GetVerifier returns the stored PKCE code verifier for the server.
func (s *Store) GetVerifier(id, legacyName string) (string, error) {
	var rec verifierRecord
	if err := s.get(verifiersBucket, id, legacyName, &rec); err != nil {
		return "", err
	}
	return rec.CodeVerifier, nil
}

// SetVerifier stores the PKCE code verifier for the server.
func (s *Store) SetVerifier(id, verifier string) error {
	return s.put(verifiersBucket, id, verifierRecord{
		CodeVerifier: verifier,
		Updated:      time.Now(),
	})
}

// RemoveVerifier deletes the PKCE code verifier for the server.
func (s *Store) RemoveVerifier(id string) error {
	return s.remove(verifiersBucket, id)
}
