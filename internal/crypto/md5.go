package crypto

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Mangling selects how a credential's MD5 hex digest is terminated. The BC
// wire protocol needs both forms depending on call site (spec §4.B); which
// to use at each login stage is fixed by internal/login, not guessed here.
type Mangling int

const (
	// ZeroLast pads the 31-character hex prefix with a trailing NUL byte,
	// as if the string had been copied into a 32-byte buffer with memcpy.
	ZeroLast Mangling = iota
	// Truncate drops the 32nd hex character entirely, as an XML serializer
	// would when the hash is carried as a bare string field.
	Truncate
)

// MD5Hex returns the uppercase hex MD5 digest of s mangled per m: 31
// printable hex characters, followed by a NUL byte (ZeroLast) or by
// nothing at all (Truncate). Both forms are exactly 31 *characters* of
// digest; only ZeroLast has a 32nd byte.
func MD5Hex(s string, m Mangling) string {
	sum := md5.Sum([]byte(s))
	full := strings.ToUpper(hex.EncodeToString(sum[:])) // 32 hex chars
	prefix := full[:31]
	switch m {
	case ZeroLast:
		return prefix + "\x00"
	default:
		return prefix
	}
}
