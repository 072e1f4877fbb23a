// Package uuid derives stable record identifiers from detail-page URLs, so a
// school fetched twice maps to the same key.
package uuid

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Generator creates name-based (version 5) UUIDs.
type Generator struct {
	namespace uuid.UUID
}

// NewGenerator returns a Generator in the URL namespace.
func NewGenerator() *Generator {
	return &Generator{namespace: uuid.NameSpaceURL}
}

// FromURL returns the UUIDv5 of the normalized URL. Unparseable input is
// hashed verbatim so the result is still stable.
func (g *Generator) FromURL(raw string) string {
	name, err := NormalizeURL(raw)
	if err != nil {
		name = strings.TrimSpace(raw)
	}
	return uuid.NewSHA1(g.namespace, []byte(name)).String()
}

// Valid reports whether id parses as a UUID.
func Valid(id string) bool {
	return uuid.Validate(id) == nil
}

// NormalizeURL lowercases the scheme and host, drops default ports and the
// fragment, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()
	return u.String(), nil
}
