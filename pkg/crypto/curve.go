package crypto

import (
	"filippo.io/edwards25519"
)

// IsOnCurve reports whether b is the compressed encoding of a point on the
// ed25519 curve. Program derived addresses must fail this test so that no
// private key can exist for them.
func IsOnCurve(b []byte) bool {
	if len(b) != PublicKeySize {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
