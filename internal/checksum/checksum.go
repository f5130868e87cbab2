// Package checksum fingerprints migration scripts.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ShortLen is the prefix length shown in status listings.
const ShortLen = 12

// Script hashes a migration script. CRLF line endings are normalised so a
// checkout on another platform keeps the same fingerprint.
func Script(script string) string {
	sum := sha256.Sum256([]byte(strings.ReplaceAll(script, "\r\n", "\n")))
	return hex.EncodeToString(sum[:])
}

func Short(sum string) string {
	if len(sum) > ShortLen {
		return sum[:ShortLen]
	}
	return sum
}
