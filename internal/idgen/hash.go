// Package idgen generates short, stable, collision-resistant identifiers
// for artifacts that need a human-scannable handle derived from content
// rather than a raw UUID or sequence number: release-signature blocks.
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts a byte slice to a base36 string of the given
// length, zero-padded on the left and truncated to the least significant
// digits if the value overflows the requested width.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	var result strings.Builder
	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// SignatureID derives the handle stamped into a signed release copy's
// signature block. It is a function of the document number, the signer, the
// signing instant, and the content checksum being attested, so two release
// copies can never share a handle unless they are byte-identical
// re-issues of the same approval.
func SignatureID(documentNumber, signer, contentChecksum string, signedAt time.Time) string {
	content := fmt.Sprintf("%s|%s|%s|%d", documentNumber, signer, contentChecksum, signedAt.UTC().UnixNano())
	hash := sha256.Sum256([]byte(content))
	return "SIG-" + EncodeBase36(hash[:5], 8)
}
