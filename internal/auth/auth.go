package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrMissingAPIKey   = errors.New("missing authorization header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("auth backend unavailable")
)

// KeyPrefix starts every intake API key. The first lookupPrefixLen bytes of a
// key are stored in clear for lookup; the full key only as a bcrypt hash.
const (
	KeyPrefix       = "rgk_"
	lookupPrefixLen = 8
)

// Client is the authenticated upstream caller, typically a chat front end.
type Client struct {
	ID   string
	Name string
}

// Authenticator validates an API key and returns the calling client.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*Client, error)
}

// ParseBearer extracts the API key from an Authorization header value.
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAPIKey
	}
	// RFC 6750: the "Bearer" scheme is case-insensitive.
	if len(header) <= 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", ErrMissingAPIKey
	}
	key := strings.TrimSpace(header[7:])
	if err := checkFormat(key); err != nil {
		return "", err
	}
	return key, nil
}

func checkFormat(key string) error {
	if len(key) < lookupPrefixLen || !strings.HasPrefix(key, KeyPrefix) {
		return ErrInvalidAPIKey
	}
	return nil
}
