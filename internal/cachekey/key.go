// Package cachekey derives the canonical, fixed-length key shared by every
// cache tier and coordination structure (L1, L2, SingleFlight) from a raw
// URL. Canonicalization is lifted from the
// teacher's crawl-time deduplicator (internal/engine/dedup.go), which faced
// the same problem: two different URL strings referring to the same
// resource must collapse to one key.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Canonicalize normalizes a URL for cache-key purposes: lowercases the
// scheme and host, strips the fragment and default port, sorts query
// parameters, and strips a trailing slash (except on the root path).
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(stripDefaultPort(u.Scheme, u.Host))
	u.Fragment = ""

	if u.Path == "" {
		u.Path = "/"
	} else if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	if q := u.Query(); len(q) > 0 {
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		for i, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for j, v := range vals {
				if i > 0 || j > 0 {
					sb.WriteByte('&')
				}
				sb.WriteString(url.QueryEscape(k))
				sb.WriteByte('=')
				sb.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = sb.String()
	}

	return u.String(), nil
}

func stripDefaultPort(scheme, host string) string {
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	default:
		return host
	}
}

// Key derives the 16-byte (32 hex char) cache key for a raw URL under a
// given mode, so the same URL scraped at different extraction depths does
// not collide in the caches.
func Key(rawURL, mode string) (string, error) {
	canon, err := Canonicalize(rawURL)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(mode + "|" + canon))
	return hex.EncodeToString(sum[:16]), nil
}
