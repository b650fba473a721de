// Package repository holds thin wrappers around the remote document store: one type per
// kind of record, each knowing its collection layout and converting between documents
// and models. They contain no merge logic; the synchronizer and the merge transactions
// build on them.
package repository

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/trentd187/scorecard-sync/internal/models"
)

// Collection names and layouts of the remote store.
const (
	SessionsCollection = "sessions"
	RoundsCollection   = "rounds"
	ProfilesCollection = "profiles"
)

// ErrInvalidKey is returned for keys the remote key space cannot hold.
var ErrInvalidKey = errors.New("repository: invalid document key")

// illegalKeyChars cannot appear in a document key.
const illegalKeyChars = ".#$[]/"

// ValidKey reports whether key is non-empty and contains no character that is illegal in
// the remote key space (". # $ [ ] /" and control characters).
func ValidKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if unicode.IsControl(r) || strings.ContainsRune(illegalKeyChars, r) {
			return false
		}
	}
	return true
}

func checkKey(key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// LeaderboardCollection is "leaderboards/<course>/<scope>", keyed by participant id.
func LeaderboardCollection(courseID string, scope models.Scope) string {
	return "leaderboards/" + courseID + "/" + string(scope)
}

// AnalyticsDaysCollection is "analytics/<course>/days", keyed by day id.
func AnalyticsDaysCollection(courseID string) string {
	return "analytics/" + courseID + "/days"
}

// ContactsCollection is "analytics/<course>/contacts", keyed by ContactKey.
func ContactsCollection(courseID string) string {
	return "analytics/" + courseID + "/contacts"
}

// NormalizeContact lowercases and trims a contact (email).
func NormalizeContact(contact string) string {
	return strings.ToLower(strings.TrimSpace(contact))
}

// ContactKey turns a normalized contact into a document key. Characters that are
// illegal in keys, control characters and "%" itself are percent-encoded, so distinct
// contacts never share a key.
func ContactKey(contact string) string {
	var b strings.Builder
	for _, r := range NormalizeContact(contact) {
		if r != '%' && !unicode.IsControl(r) && !strings.ContainsRune(illegalKeyChars, r) {
			b.WriteRune(r)
			continue
		}
		var buf [utf8.UTFMax]byte
		for _, c := range buf[:utf8.EncodeRune(buf[:], r)] {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
