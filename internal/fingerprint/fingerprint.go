// Package fingerprint derives site fingerprints from URLs.
//
// A fingerprint is the lower-cased host followed by a normalized path template in
// which volatile segments (numeric ids, hex digests, UUIDs, dates, long opaque
// tokens) are replaced by Wildcard. Structurally similar pages share a fingerprint:
//
//	https://www.shop.com/products/12345/reviews?page=2 -> shop.com/products/*/reviews
package fingerprint

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Wildcard replaces volatile path segments.
const Wildcard = "*"

// ErrInvalidURL is returned when a URL has no host.
var ErrInvalidURL = errors.New("invalid url")

var (
	numericRe = regexp.MustCompile(`^[0-9]+$`)
	hexRe     = regexp.MustCompile(`^[0-9a-fA-F]{8,}$`)
	uuidRe    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	dateRe    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	letterRe  = regexp.MustCompile(`[a-zA-Z]`)
	digitRe   = regexp.MustCompile(`[0-9]`)
)

// minOpaqueTokenLen is the length at which a mixed letter/digit segment is treated
// as an opaque token (session ids, slugs with embedded hashes).
const minOpaqueTokenLen = 16

// FromURL returns the fingerprint for raw.
func FromURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidURL, raw)
	}
	host = strings.TrimPrefix(host, "www.")

	return host + NormalizePath(u.Path), nil
}

// NormalizePath converts a URL path into a template with volatile segments
// replaced by Wildcard. The result always starts with "/" and never ends with
// one unless it is the root.
func NormalizePath(path string) string {
	segments := strings.Split(path, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if IsVolatile(seg) {
			out = append(out, Wildcard)
			continue
		}
		out = append(out, strings.ToLower(seg))
	}
	return "/" + strings.Join(out, "/")
}

// IsVolatile reports whether a path segment looks like an identifier rather
// than part of the site structure.
func IsVolatile(seg string) bool {
	switch {
	case numericRe.MatchString(seg):
		return true
	case uuidRe.MatchString(seg):
		return true
	case dateRe.MatchString(seg):
		return true
	// all-letter hex runs ("deadbeef") stay literal
	case hexRe.MatchString(seg) && digitRe.MatchString(seg):
		return true
	case len(seg) >= minOpaqueTokenLen && letterRe.MatchString(seg) && digitRe.MatchString(seg) && !strings.Contains(seg, "-"):
		return true
	}
	return false
}
