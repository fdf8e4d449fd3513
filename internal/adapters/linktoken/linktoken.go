// Package linktoken issues the opaque tokens embedded in customer links and
// builds the public link URL around them.
package linktoken

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// DefaultSize is the number of random bytes per token (256 bits).
const DefaultSize = 32

// Issuer generates URL-safe random tokens.
type Issuer struct {
	size int
}

// NewIssuer creates an issuer producing tokens of size random bytes.
func NewIssuer(size int) *Issuer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Issuer{size: size}
}

// IssueToken returns a fresh token.
func (i *Issuer) IssueToken() (string, error) {
	return GenerateRandomToken(i.size)
}

// GenerateRandomToken returns size random bytes, base64url encoded without padding.
func GenerateRandomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// BuildLink joins the public base URL and the token: {base}/verify/{token}.
func BuildLink(baseURL, token string) (string, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid public link base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("public link base url must be absolute: %q", baseURL)
	}
	return base.JoinPath("verify", token).String(), nil
}
