// Package hashutil fingerprints timer tokens with HighwayHash, giving a fast
// mismatch-rejection path ahead of the exact constant-time compare.
package hashutil

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"

	"github.com/minio/highwayhash"
)

// KeySize is the fixed HighwayHash key length.
const KeySize = 32

// Key is a process-local HighwayHash key generated once at boot.
type Key [KeySize]byte

// NewKey generates a random HighwayHash key.
func NewKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, err
	}
	return k, nil
}

// KeyFromHex decodes a hex-encoded 32-byte key, e.g. from HIGHWAY_HASH_KEY.
func KeyFromHex(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, err
	}
	copy(k[:], b)
	return k, nil
}

// Token is a timer token: a random nonce plus its HighwayHash fingerprint
// under the process key, so the timer callback can cheaply reject a
// mismatched token before falling back to an exact compare.
type Token struct {
	Raw         string
	Fingerprint uint64
}

// NewToken generates a fresh random token and its fingerprint under key.
func NewToken(key Key) (Token, error) {
	var raw [24]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return Token{}, err
	}
	encoded := hex.EncodeToString(raw[:])
	return Token{Raw: encoded, Fingerprint: highwayhash.Sum64([]byte(encoded), key[:])}, nil
}

// Matches reports whether candidate is the same raw token, rejecting fast on
// a fingerprint mismatch and falling back to a constant-time compare only
// when the fingerprints agree.
func (t Token) Matches(key Key, candidate string) bool {
	if highwayhash.Sum64([]byte(candidate), key[:]) != t.Fingerprint {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(t.Raw), []byte(candidate)) == 1
}
