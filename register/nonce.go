package register

import (
	"crypto/md5" //nolint:gosec // mandated by the registration wire protocol
)

// ComputeNonce derives the challenge-response nonce for a 401 reply:
// the first MD5 pass covers the server realm concatenated with the
// shared hash key, the second pass covers the raw first digest alone.
// The result is the raw 16-byte second digest as sent on the wire.
func ComputeNonce(realm, hashKey string) []byte {
	first := md5.Sum([]byte(realm + hashKey)) //nolint:gosec
	second := md5.Sum(first[:])               //nolint:gosec
	return second[:]
}
