package keymutex

import (
	"sync"
	"testing"
)

func TestKeyMutexSerializesSameKey(t *testing.T) {
	km := New()

	const workers = 16
	const iterations = 100
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				km.Lock("cfg-1")
				counter++
				km.Unlock("cfg-1")
			}
		}()
	}
	wg.Wait()

	if counter != workers*iterations {
		t.Fatalf("counter: want=%d got=%d", workers*iterations, counter)
	}
}

func TestKeyMutexIndependentKeysDoNotBlock(t *testing.T) {
	km := New()

	km.Lock("cfg-a")
	done := make(chan struct{})
	go func() {
		km.Lock("cfg-b")
		km.Unlock("cfg-b")
		close(done)
	}()
	<-done
	km.Unlock("cfg-a")
}

func TestKeyMutexReleasesEntries(t *testing.T) {
	km := New()
	km.Lock("cfg-1")
	km.Unlock("cfg-1")

	km.mu.Lock()
	n := len(km.locks)
	km.mu.Unlock()
	if n != 0 {
		t.Fatalf("lock table size: want=0 got=%d", n)
	}
}
