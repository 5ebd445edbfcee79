package monkey

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

const (
	errorChance = 0.05 // 5% error chance, enough to see retries locally
)

var (
	mu  sync.Mutex
	rng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// RandomizeError with some probability replaces a nil error with a random
// "monkey" error. Used by the local run to exercise the retry path.
func RandomizeError(err error) error {
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	if rng.Float32() > errorChance {
		return nil
	}
	return errors.New("monkey error")
}
