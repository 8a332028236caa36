// Package release defines the immutable release record and the pure
// version-resolution logic over a set of releases.
package release

import (
	"regexp"
	"strings"
	"time"
)

// Release is one published artifact plus metadata for an application. Once
// created, only the download counter changes, monotonically.
type Release struct {
	AppID      int64
	Version    string
	Title      string
	Patchnotes string
	DevBuild   bool
	Published  time.Time
	File       string
	Checksum   string
	Downloads  int64
	// Seq is the store-assigned insertion sequence. It breaks ties between
	// releases published at the same instant: later insertions sort first.
	Seq       int64
	CreatedAt time.Time
}

// LatestKey is the reserved version key resolving to the most recently
// published release, dev builds included.
const LatestKey = "latest"

var versionPattern = regexp.MustCompile(`^[a-zA-Z0-9._\- ]+$`)

// ValidVersion reports whether the version string uses only the allowed
// character class.
func ValidVersion(version string) bool {
	return version != "" && versionPattern.MatchString(version)
}

// NormalizeKey canonicalizes a version lookup key: underscores become spaces
// and matching is case-insensitive.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", " "))
}

// KeysEqual reports whether two version strings identify the same release.
func KeysEqual(a, b string) bool {
	return NormalizeKey(a) == NormalizeKey(b)
}
