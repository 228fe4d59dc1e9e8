// Package cachekey derives the request keys cache partitions are addressed by,
// and stable document IDs for cached entries.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

const docPrefix = "entry:"

// Key returns the cache key of a request: the upper-cased method, a space, and the
// normalized absolute URL. Fragments never reach the network, so they are dropped;
// scheme and host are case-insensitive and lower-cased.
func Key(method, rawURL string) string {
	return strings.ToUpper(method) + " " + NormalizeURL(rawURL)
}

// NormalizeURL lower-cases scheme and host and strips the fragment.
// Unparseable input is returned unchanged.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" && u.Host != "" {
		u.Path = "/"
	}
	return u.String()
}

// SplitKey is the inverse of Key.
func SplitKey(key string) (method, rawURL string) {
	method, rawURL, found := strings.Cut(key, " ")
	if !found {
		return "", key
	}
	return method, rawURL
}

// Resolve resolves ref against origin, so "/wiki/42" and "https://host/wiki/42" map to the same key.
func Resolve(origin *url.URL, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", ref, err)
	}
	if origin == nil {
		if !r.IsAbs() {
			return "", fmt.Errorf("relative url %q without origin", ref)
		}
		return r.String(), nil
	}
	return origin.ResolveReference(r).String(), nil
}

// DocID returns a stable document ID for a cache entry. Same partition and key always
// yield the same ID, so re-storing an entry overwrites its indexed copy.
func DocID(partition, key string) string {
	hash := sha256.Sum256([]byte(partition + "\x00" + key))
	return docPrefix + hex.EncodeToString(hash[:])
}
