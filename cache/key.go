package cache

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key identifies one source photo. Keys are opaque and compared by identity;
// two photos with identical pixels still have distinct keys.
type Key string

func (k Key) String() string {
	return string(k)
}

const (
	fileExt         = ".jpg"
	hashedPrefix    = "~"
	tmpPrefix       = ".tmp-"
	maxPlainNameLen = 200
)

// fileName maps key to its file in the disk tier. Keys made of filename-safe
// characters keep their own name; anything else is stored under the xxhash of
// the key. The "~" prefix cannot occur in a plain name, so the two forms
// never collide.
func fileName(key Key) string {
	if isPlainName(string(key)) {
		return string(key) + fileExt
	}
	return fmt.Sprintf("%s%016x%s", hashedPrefix, xxhash.Sum64String(string(key)), fileExt)
}

func isPlainName(s string) bool {
	if s == "" || len(s) > maxPlainNameLen || strings.HasPrefix(s, ".") {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}
