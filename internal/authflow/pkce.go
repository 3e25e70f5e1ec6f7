package authflow

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// unreservedChars is the RFC 7636 Section 4.1 code verifier alphabet.
const unreservedChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// codeVerifierLength is the minimum allowed by RFC 7636 and what this
// engine always generates.
const codeVerifierLength = 43

// verifierByteLimit is the largest multiple of the alphabet size that fits
// in a byte. Random bytes at or above it are rejected so the character
// selection stays uniform.
const verifierByteLimit = byte((256 / len(unreservedChars)) * len(unreservedChars))

// GenerateCodeVerifier produces a random 43-character code verifier drawn
// uniformly from the unreserved character set.
func GenerateCodeVerifier() (string, error) {
	out := make([]byte, 0, codeVerifierLength)
	buf := make([]byte, codeVerifierLength)
	for len(out) < codeVerifierLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate code verifier: %w", err)
		}
		for _, b := range buf {
			if b >= verifierByteLimit {
				continue
			}
			out = append(out, unreservedChars[int(b)%len(unreservedChars)])
			if len(out) == codeVerifierLength {
				break
			}
		}
	}
	return string(out), nil
}

// GenerateCodeChallenge derives the S256 code challenge from a verifier:
// the unpadded URL-safe base64 encoding of the verifier's SHA-256 digest.
func GenerateCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateState produces a random anti-forgery state parameter.
func GenerateState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
