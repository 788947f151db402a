package project

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerminalIDsArePairwiseDistinct(t *testing.T) {
	const goroutines = 16
	const idsPerGoroutine = 100

	var wg sync.WaitGroup
	results := make(chan uint64, goroutines*idsPerGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < idsPerGoroutine; j++ {
				results <- allocateTerminalID()
			}
		}()
	}

	wg.Wait()
	close(results)

	seen := make(map[uint64]struct{})
	for id := range results {
		_, duplicate := seen[id]
		assert.False(t, duplicate, "terminal ID %d was allocated twice", id)
		seen[id] = struct{}{}
	}

	assert.Len(t, seen, goroutines*idsPerGoroutine)
}
