package harvest

import "strings"

// Denylisted entry names, matched whole and case-insensitively. These are
// the browser-profile style stores a launcher writes credentials into.
var excludedNames = []string{
	"Cookies",
	"Login Data",
	"Web Data",
	"History",
	"Preferences",
	"Account",
	"Auth",
	"Session",
}

// Case-insensitive substrings matched against both the entry name and its
// full relative path.
var sensitiveFragments = []string{
	"account",
	"auth",
	"token",
	"session",
	"cookie",
	"password",
	"login",
	"credential",
	"profile",
	"user",
}

// IsExcluded decides whether an entry is dropped from a harvest copy.
// Excluding a directory skips its whole subtree.
func IsExcluded(entryName, relativePath string) bool {
	for _, denied := range excludedNames {
		if strings.EqualFold(entryName, denied) {
			return true
		}
	}
	name := strings.ToLower(entryName)
	rel := strings.ToLower(relativePath)
	for _, frag := range sensitiveFragments {
		if strings.Contains(name, frag) || strings.Contains(rel, frag) {
			return true
		}
	}
	return false
}
