package janitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/damir5/kosarica-sub003/chassis/storage"
)

// countingStore records sweep and recovery invocations.
type countingStore struct {
	*storage.MemoryStore
	cleanups   int32
	recoveries int32
}

func (cs *countingStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	atomic.AddInt32(&cs.cleanups, 1)
	return cs.MemoryStore.Cleanup(ctx, olderThan)
}

func (cs *countingStore) RecoverStale(ctx context.Context, claimedFor time.Duration, batchSize int) (int, error) {
	atomic.AddInt32(&cs.recoveries, 1)
	return cs.MemoryStore.RecoverStale(ctx, claimedFor, batchSize)
}

func TestRunDrivesBothLoops(t *testing.T) {
	cs := &countingStore{MemoryStore: storage.NewMemoryStore(nil)}
	cfg := &Config{
		Store:            cs,
		Interval:         10 * time.Millisecond,
		DaysToKeep:       30,
		StaleTimeout:     time.Hour,
		RecoverBatchSize: 100,
	}

	ctx, cancel := context.WithCancel(context.Background())
	var group sync.WaitGroup
	Run(ctx, cfg, &group)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&cs.cleanups) > 0 && atomic.LoadInt32(&cs.recoveries) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	group.Wait()

	if atomic.LoadInt32(&cs.cleanups) == 0 {
		t.Error("retention sweep never ran")
	}
	if atomic.LoadInt32(&cs.recoveries) == 0 {
		t.Error("stale recovery never ran")
	}
}
