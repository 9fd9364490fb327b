// Package utils holds small helpers shared across packages.
package utils

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// HashString returns the hex md5 of input. It keys caches and content IDs,
// not anything security sensitive.
func HashString(input string) string {
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}

// HashParts hashes parts joined by NUL, so ("ab", "c") and ("a", "bc")
// differ.
func HashParts(parts ...string) string {
	return HashString(strings.Join(parts, "\x00"))
}

// CacheKey joins a namespace with the hash of the remaining parts, e.g.
// "geocode:5d41402a...".
func CacheKey(namespace string, parts ...string) string {
	return namespace + ":" + HashParts(parts...)
}
