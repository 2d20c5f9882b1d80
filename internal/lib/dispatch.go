package lib

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Dispatcher runs jobs of one key in submission order and jobs of different
// keys concurrently. One goroutine drains each active key's queue.
type Dispatcher struct {
	mu     sync.Mutex
	queues map[int64][]func()
	wg     sync.WaitGroup
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{queues: make(map[int64][]func())}
}

func (d *Dispatcher) Submit(key int64, job func()) {
	d.mu.Lock()
	q, active := d.queues[key]
	d.queues[key] = append(q, job)
	if !active {
		d.wg.Add(1)
	}
	d.mu.Unlock()
	if !active {
		go d.drain(key)
	}
}

func (d *Dispatcher) drain(key int64) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		job := q[0]
		d.queues[key] = q[1:]
		d.mu.Unlock()
		run(key, job)
	}
}

func run(key int64, job func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int64("user_id", key).Interface("panic", r).Msg("dispatch job panicked")
		}
	}()
	job()
}

// Active is the number of keys with queued or running jobs.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Wait blocks until every submitted job has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
