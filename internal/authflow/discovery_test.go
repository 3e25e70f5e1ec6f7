package authflow

import (
	"testing"
)

func TestParseWWWAuthenticate(t *testing.T) {
	tests := []struct {
		name                 string
		header               string
		wantScheme           string
		wantResourceMetadata string
		wantScopes           []string
		wantError            string
		expectError          bool
	}{
		{
			name:                 "complete challenge",
			header:               `Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource", scope="files:read files:write", error="insufficient_scope"`,
			wantScheme:           "Bearer",
			wantResourceMetadata: "https://mcp.example.com/.well-known/oauth-protected-resource",
			wantScopes:           []string{"files:read", "files:write"},
			wantError:            "insufficient_scope",
		},
		{
			name:                 "resource_metadata only",
			header:               `Bearer resource_metadata="https://auth.example.com/.well-known/oauth-protected-resource"`,
			wantScheme:           "Bearer",
			wantResourceMetadata: "https://auth.example.com/.well-known/oauth-protected-resource",
		},
		{
			name:       "scheme only",
			header:     "Bearer",
			wantScheme: "Bearer",
		},
		{
			name:       "unquoted parameter value",
			header:     `Bearer error=invalid_token`,
			wantScheme: "Bearer",
			wantError:  "invalid_token",
		},
		{
			name:       "comma inside quoted value",
			header:     `Bearer resource_metadata="https://a.example.com/x,y", scope="read"`,
			wantScheme: "Bearer",
			wantResourceMetadata: "https://a.example.com/x,y",
			wantScopes:           []string{"read"},
		},
		{
			name:        "empty header",
			header:      "",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			challenge, err := ParseWWWAuthenticate(tt.header)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if challenge.Scheme != tt.wantScheme {
				t.Errorf("Scheme = %q, want %q", challenge.Scheme, tt.wantScheme)
			}
			if challenge.ResourceMetadataURL != tt.wantResourceMetadata {
				t.Errorf("ResourceMetadataURL = %q, want %q", challenge.ResourceMetadataURL, tt.wantResourceMetadata)
			}
			if len(challenge.Scopes) != len(tt.wantScopes) {
				t.Errorf("Scopes = %v, want %v", challenge.Scopes, tt.wantScopes)
			} else {
				for i, scope := range challenge.Scopes {
					if scope != tt.wantScopes[i] {
						t.Errorf("Scopes[%d] = %q, want %q", i, scope, tt.wantScopes[i])
					}
				}
			}
			if challenge.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", challenge.Error, tt.wantError)
			}
		})
	}
}

func TestBuildResourceMetadataURLs(t *testing.T) {
	tests := []struct {
		name        string
		endpoint    string
		want        []string
		expectError bool
	}{
		{
			name:     "endpoint with path",
			endpoint: "https://mcp.example.com/mcp",
			want: []string{
				"https://mcp.example.com/.well-known/oauth-protected-resource/mcp",
				"https://mcp.example.com/.well-known/oauth-protected-resource",
			},
		},
		{
			name:     "endpoint at root",
			endpoint: "https://mcp.example.com",
			want: []string{
				"https://mcp.example.com/.well-known/oauth-protected-resource",
			},
		},
		{
			name:     "nested path with trailing slash",
			endpoint: "https://mcp.example.com/api/v1/mcp/",
			want: []string{
				"https://mcp.example.com/.well-known/oauth-protected-resource/api/v1/mcp",
				"https://mcp.example.com/.well-known/oauth-protected-resource",
			},
		},
		{
			name:        "missing scheme",
			endpoint:    "mcp.example.com/mcp",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildResourceMetadataURLs(tt.endpoint)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			assertStringSlice(t, got, tt.want)
		})
	}
}

func TestBuildASMetadataURLs(t *testing.T) {
	tests := []struct {
		name    string
		issuer  string
		variant ProtocolVariant
		want    []string
	}{
		{
			name:    "current variant with path",
			issuer:  "https://auth.example.com/tenant1",
			variant: VariantCurrent,
			want: []string{
				"https://auth.example.com/.well-known/oauth-authorization-server/tenant1",
				"https://auth.example.com/.well-known/openid-configuration/tenant1",
				"https://auth.example.com/tenant1/.well-known/openid-configuration",
			},
		},
		{
			name:    "current variant at root",
			issuer:  "https://auth.example.com",
			variant: VariantCurrent,
			want: []string{
				"https://auth.example.com/.well-known/oauth-authorization-server",
				"https://auth.example.com/.well-known/openid-configuration",
			},
		},
		{
			name:    "legacy variant with path keeps root fallback",
			issuer:  "https://auth.example.com/mcp",
			variant: VariantLegacy,
			want: []string{
				"https://auth.example.com/.well-known/oauth-authorization-server/mcp",
				"https://auth.example.com/.well-known/oauth-authorization-server",
			},
		},
		{
			name:    "legacy variant at root",
			issuer:  "https://auth.example.com",
			variant: VariantLegacy,
			want: []string{
				"https://auth.example.com/.well-known/oauth-authorization-server",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildASMetadataURLs(tt.issuer, tt.variant)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			assertStringSlice(t, got, tt.want)
		})
	}
}

func TestValidateProtectedResourceMetadata(t *testing.T) {
	tests := []struct {
		name        string
		metadata    ProtectedResourceMetadata
		expectError bool
	}{
		{
			name: "valid metadata",
			metadata: ProtectedResourceMetadata{
				Resource:             "https://mcp.example.com/mcp",
				AuthorizationServers: []string{"https://auth.example.com"},
			},
		},
		{
			name: "missing resource",
			metadata: ProtectedResourceMetadata{
				AuthorizationServers: []string{"https://auth.example.com"},
			},
			expectError: true,
		},
		{
			name: "no authorization servers",
			metadata: ProtectedResourceMetadata{
				Resource: "https://mcp.example.com/mcp",
			},
			expectError: true,
		},
		{
			name: "relative authorization server URL",
			metadata: ProtectedResourceMetadata{
				Resource:             "https://mcp.example.com/mcp",
				AuthorizationServers: []string{"/auth"},
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProtectedResourceMetadata(&tt.metadata)
			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSelectAuthorizationServer(t *testing.T) {
	metadata := &ProtectedResourceMetadata{
		Resource:             "https://mcp.example.com/mcp",
		AuthorizationServers: []string{"https://auth1.example.com", "https://auth2.example.com"},
	}

	tests := []struct {
		name        string
		preferred   string
		want        string
		expectError bool
	}{
		{
			name: "default picks first",
			want: "https://auth1.example.com",
		},
		{
			name:      "preferred wins when listed",
			preferred: "https://auth2.example.com",
			want:      "https://auth2.example.com",
		},
		{
			name:        "preferred not in list",
			preferred:   "https://elsewhere.example.com",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectAuthorizationServer(metadata, tt.preferred)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func assertStringSlice(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d entries %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}
