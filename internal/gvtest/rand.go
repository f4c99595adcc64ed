package gvtest

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"testing"
)

// RandomPayload returns sz bytes of pseudorandom data,
// seeded from the test name so that reruns of a failing test
// see the same bytes.
func RandomPayload(t testing.TB, sz int) []byte {
	// Hashing means arbitrarily long test names still work;
	// the digest's leading bytes seed the generator.
	digest := sha256.Sum256([]byte(t.Name()))
	seed := int64(binary.LittleEndian.Uint64(digest[:8]))
	rng := rand.New(rand.NewSource(seed))

	out := make([]byte, sz)
	if _, err := rng.Read(out); err != nil {
		panic(err)
	}

	return out
}
