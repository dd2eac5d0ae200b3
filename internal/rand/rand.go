// Package rand generates the short correlation ids used to match stream
// frames to their requests. Not security-critical.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var charsetLen = len(charset)

var defaultSource = newSource()

type source struct {
	mut sync.Mutex
	rng *rand.Rand
}

func newSource() *source {
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		panic("unreachable")
	}
	return &source{
		//nolint:gosec // no security required
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

// NewRequestID returns a fresh id of the given length drawn from a base62
// alphabet.
func NewRequestID(length int) string {
	buf := make([]byte, length)

	defaultSource.mut.Lock()
	for i := range buf {
		buf[i] = charset[defaultSource.rng.IntN(charsetLen)]
	}
	defaultSource.mut.Unlock()

	return string(buf)
}
