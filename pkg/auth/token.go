package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// AccessTokenPrefix identifies bearer access tokens
	AccessTokenPrefix = "oat_"
	// RefreshTokenPrefix identifies refresh tokens
	RefreshTokenPrefix = "ort_"
	// AuthorizationCodePrefix identifies authorization codes
	AuthorizationCodePrefix = "oac_"
	// ClientSecretPrefix identifies registered client secrets
	ClientSecretPrefix = "ocs_"
	// SecretLength is the number of random bytes in a secret (32 bytes = 256 bits)
	SecretLength = 32
)

// encodedSecretLength is the base64url length of SecretLength random bytes
var encodedSecretLength = base64.RawURLEncoding.EncodedLen(SecretLength)

// TokenGenerator generates opaque secrets and the hashes they are stored under
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// Generate creates a new secret with the given prefix.
// Format: <prefix><base64url(32 random bytes)>
// Only the returned hash may be persisted; the secret is handed to the caller once.
func (tg *TokenGenerator) Generate(prefix string) (secret string, secretHash string, err error) {
	randomBytes := make([]byte, SecretLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	secret = prefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return secret, tg.Hash(secret), nil
}

// Hash computes the SHA256 hash of a secret for lookup
func (tg *TokenGenerator) Hash(secret string) string {
	hash := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(hash[:])
}

// ValidateFormat checks that a secret carries the expected prefix and encoding
func (tg *TokenGenerator) ValidateFormat(secret, prefix string) error {
	if !strings.HasPrefix(secret, prefix) {
		return fmt.Errorf("secret must start with %q", prefix)
	}

	encodedPart := strings.TrimPrefix(secret, prefix)
	if len(encodedPart) != encodedSecretLength {
		return fmt.Errorf("secret has invalid length")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid secret encoding: %w", err)
	}

	return nil
}

// MatchesHash reports whether secret hashes to secretHash, in constant time
func (tg *TokenGenerator) MatchesHash(secret, secretHash string) bool {
	computed := tg.Hash(secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(secretHash)) == 1
}

// DisplayPrefix returns the first characters of a secret for logs and UIs
func DisplayPrefix(secret string) string {
	for _, prefix := range []string{AccessTokenPrefix, RefreshTokenPrefix, AuthorizationCodePrefix, ClientSecretPrefix} {
		if strings.HasPrefix(secret, prefix) {
			encodedPart := strings.TrimPrefix(secret, prefix)
			if len(encodedPart) >= 8 {
				return prefix + encodedPart[:8]
			}
			return prefix
		}
	}
	return ""
}
