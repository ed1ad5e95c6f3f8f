package syncutil

import (
	"sync"
	"testing"
)

func TestShardedMutex_SerializesSameKey(t *testing.T) {
	var m ShardedMutex
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("user-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("counter = %d, want 100 (lost updates under same key)", counter)
	}
}

func TestShardedMutex_UnlockReleases(t *testing.T) {
	var m ShardedMutex

	unlock := m.Lock("k")
	unlock()

	done := make(chan struct{})
	go func() {
		u := m.Lock("k")
		u()
		close(done)
	}()

	<-done
}
