package cmd

import "testing"

func TestExtractAuthorizationCode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "bare code",
			input: "abc123",
			want:  "abc123",
		},
		{
			name:  "redirect URL with code",
			input: "http://localhost:8765/callback?code=abc123&state=xyz",
			want:  "abc123",
		},
		{
			name:  "redirect URL without code",
			input: "http://localhost:8765/callback?error=access_denied",
			want:  "",
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractAuthorizationCode(tt.input); got != tt.want {
				t.Errorf("extractAuthorizationCode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
