package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// verifierEntropyBytes is the amount of random input encoded into a code
// verifier. Well above the RFC 7636 minimum of 32 bytes.
const verifierEntropyBytes = 128

// PKCEChallenge holds the verifier/challenge pair for one authorization
// round trip. The verifier stays local until the code exchange; only the
// challenge travels in the authorize URL.
type PKCEChallenge struct {
	CodeVerifier        string
	CodeChallenge       string
	CodeChallengeMethod string
}

// GeneratePKCE creates a fresh S256 verifier/challenge pair.
func GeneratePKCE() (*PKCEChallenge, error) {
	raw := make([]byte, verifierEntropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	verifier := base64.RawURLEncoding.EncodeToString(raw)
	hash := sha256.Sum256([]byte(verifier))

	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       base64.RawURLEncoding.EncodeToString(hash[:]),
		CodeChallengeMethod: "S256",
	}, nil
}

// GenerateState creates the state nonce correlating an authorize request
// with its redirect. A v4 UUID carries 122 bits of randomness, enough to
// make guessing a live state impractical.
func GenerateState() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return id.String(), nil
}
