package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// StaticAuthenticator accepts keys matching one of a fixed set of bcrypt
// hashes, configured at startup. Verified keys are cached so bcrypt runs once
// per key per TTL.
type StaticAuthenticator struct {
	clients []staticClient
	cache   *AuthCache
}

type staticClient struct {
	client *Client
	hash   []byte
}

// ParseKeyHashes parses "name=hash,name=hash". bcrypt hashes never contain
// '=' or ','.
func ParseKeyHashes(list string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, hash, ok := strings.Cut(part, "=")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("ParseKeyHashes: malformed entry %q", part)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("ParseKeyHashes: %s: %w", name, err)
		}
		out[name] = hash
	}
	return out, nil
}

// NewStaticAuthenticator creates an authenticator from client name -> bcrypt
// hash pairs.
func NewStaticAuthenticator(hashes map[string]string, ttl time.Duration) *StaticAuthenticator {
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	a := &StaticAuthenticator{cache: NewAuthCache(ttl)}
	for name, hash := range hashes {
		a.clients = append(a.clients, staticClient{
			client: &Client{ID: name, Name: name},
			hash:   []byte(hash),
		})
	}
	return a
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, apiKey string) (*Client, error) {
	if err := checkFormat(apiKey); err != nil {
		return nil, err
	}
	// The key set never changes, so a stale entry is still valid.
	if res := a.cache.Get(apiKey); res.Hit {
		if res.NeedsRefresh {
			a.cache.Set(apiKey, res.Client)
		}
		return res.Client, nil
	}
	for _, c := range a.clients {
		if bcrypt.CompareHashAndPassword(c.hash, []byte(apiKey)) == nil {
			a.cache.Set(apiKey, c.client)
			return c.client, nil
		}
	}
	return nil, ErrInvalidAPIKey
}
