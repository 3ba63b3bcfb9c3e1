// Package secrets generates the credentials injected into simulated login
// traffic and redacts them from anything surfaced to observers. One
// iteration per run is planted with a known, intentionally identifiable
// password; every other iteration gets a fresh random one.
package secrets

import (
	"crypto/rand"
	"encoding/hex"
	mrand "math/rand/v2"
)

// KnownPassword is the fixed credential planted into exactly one iteration
// of a login run, to test whether the target can tell it apart from noise.
const KnownPassword = "K4sad@!"

// Mask replaces a redacted credential field in displayed request bodies.
const Mask = "********"

// RandomPassword returns a fresh 16-character hex credential.
func RandomPassword() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// PlantIndex picks the iteration, uniform over [1, n], that will carry the
// known credential. The choice is fixed for the whole run. Returns -1 for
// a non-positive n.
func PlantIndex(n int) int {
	if n <= 0 {
		return -1
	}
	return mrand.IntN(n) + 1
}

// RedactBody returns a copy of body with field masked wherever its value
// equals secret. The original map is never mutated: the value sent over
// the wire stays intact, only the displayed copy is masked.
func RedactBody(body map[string]any, field, secret string) map[string]any {
	if body == nil {
		return nil
	}
	out := make(map[string]any, len(body))
	for k, v := range body {
		if k == field {
			if s, ok := v.(string); ok && s == secret {
				out[k] = Mask
				continue
			}
		}
		out[k] = v
	}
	return out
}
