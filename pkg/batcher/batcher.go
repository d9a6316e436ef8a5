// Package batcher groups items and hands them to a flush function when a
// size or time threshold is reached.
package batcher

import (
	"errors"
	"sync"
	"time"
)

var ErrClosed = errors.New("batcher: closed")

// Batcher is safe for concurrent use.
type Batcher[T any] struct {
	mu       sync.Mutex
	buffer   []T
	closed   bool
	maxSize  int
	interval time.Duration
	flushFn  func([]T) error
	onError  func(err error, lost int)

	stop chan struct{}
	wg   sync.WaitGroup
}

// New starts a batcher. onError, if set, is called for every failed flush
// with the number of items that were dropped.
func New[T any](maxSize int, interval time.Duration, flushFn func([]T) error, onError func(err error, lost int)) *Batcher[T] {
	if maxSize < 1 {
		maxSize = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	b := &Batcher[T]{
		maxSize:  maxSize,
		interval: interval,
		flushFn:  flushFn,
		onError:  onError,
		stop:     make(chan struct{}),
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

// Add queues an item and flushes on the caller's goroutine once maxSize is reached.
func (b *Batcher[T]) Add(item T) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.buffer = append(b.buffer, item)
	var batch []T
	if len(b.buffer) >= b.maxSize {
		batch = b.detach()
	}
	b.mu.Unlock()
	return b.runFlush(batch)
}

// Flush forces a flush of the accumulated items.
func (b *Batcher[T]) Flush() error {
	b.mu.Lock()
	batch := b.detach()
	b.mu.Unlock()
	return b.runFlush(batch)
}

// Close stops the ticker, rejects further Adds and flushes what is left.
func (b *Batcher[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stop)
	b.wg.Wait()
	return b.Flush()
}

func (b *Batcher[T]) loop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = b.Flush()
		case <-b.stop:
			return
		}
	}
}

func (b *Batcher[T]) detach() []T {
	if len(b.buffer) == 0 {
		return nil
	}
	batch := make([]T, len(b.buffer))
	copy(batch, b.buffer)
	b.buffer = b.buffer[:0]
	return batch
}

func (b *Batcher[T]) runFlush(batch []T) error {
	if len(batch) == 0 {
		return nil
	}
	if b.flushFn == nil {
		return errors.New("batcher: no flush function configured")
	}
	err := b.flushFn(batch)
	if err != nil && b.onError != nil {
		b.onError(err, len(batch))
	}
	return err
}
