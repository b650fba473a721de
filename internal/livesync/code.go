package livesync

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// codeAlphabet is uppercase alphanumeric without the characters people confuse when
// reading a code off another phone: 0/O, 1/I/L.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeLength is the length of generated session codes.
const CodeLength = 6

// NewCode returns a random session code. Uniqueness is left to the remote store.
func NewCode() string {
	var b strings.Builder
	size := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			panic(err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String()
}

// NormalizeCode uppercases and trims a code typed in by a user.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
