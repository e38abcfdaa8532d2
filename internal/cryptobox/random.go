package cryptobox

import (
	"crypto/rand"
	"io"
	"sync"
)

var (
	randMu        sync.RWMutex
	randomnessSrc io.Reader = randReader{}
)

// randReader wraps crypto/rand.Reader but keeps the type unexported so tests can
// substitute other sources.
type randReader struct{}

func (randReader) Read(p []byte) (int, error) {
	return rand.Read(p)
}

// UseRandom swaps the randomness source and returns a restore function that
// must be called when the test completes.
func UseRandom(r io.Reader) func() {
	randMu.Lock()
	prev := randomnessSrc
	randomnessSrc = r
	randMu.Unlock()
	return func() {
		randMu.Lock()
		randomnessSrc = prev
		randMu.Unlock()
	}
}

func randomSource() io.Reader {
	randMu.RLock()
	defer randMu.RUnlock()
	return randomnessSrc
}

func readRandom(b []byte) error {
	_, err := io.ReadFull(randomSource(), b)
	return err
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
