package lib

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherKeepsPerKeyOrder(t *testing.T) {
	d := NewDispatcher()
	var mu sync.Mutex
	got := map[int64][]int{}

	for i := 0; i < 50; i++ {
		for _, key := range []int64{1, 2, 3} {
			key, i := key, i
			d.Submit(key, func() {
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
			})
		}
	}
	d.Wait()

	for _, key := range []int64{1, 2, 3} {
		assert.Len(t, got[key], 50)
		for i, v := range got[key] {
			assert.Equal(t, i, v)
		}
	}
	assert.Equal(t, 0, d.Active())
}

func TestDispatcherRunsKeysConcurrently(t *testing.T) {
	d := NewDispatcher()
	release := make(chan struct{})
	var done atomic.Int32

	d.Submit(1, func() { <-release })
	d.Submit(2, func() { done.Add(1) })

	assert.Eventually(t, func() bool { return done.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	d.Wait()
}

func TestDispatcherSurvivesPanic(t *testing.T) {
	d := NewDispatcher()
	var ran atomic.Bool
	d.Submit(1, func() { panic("boom") })
	d.Submit(1, func() { ran.Store(true) })
	d.Wait()
	assert.True(t, ran.Load())
}
