package transcribe

import (
	"context"
	"io"
	"sync"
)

// bridge connects push-style chunk delivery to pull-style stream
// consumption. Pushes never block: the queue is unbounded, trading
// memory for never stalling audio ingestion. After CloseWrite the
// queue still drains already-buffered chunks before Next reports EOF.
//
// Exclusively owned by one Session; never shared.
type bridge struct {
	mu     sync.Mutex
	queue  [][]byte
	closed bool
	notify chan struct{}
}

func newBridge() *bridge {
	return &bridge{notify: make(chan struct{}, 1)}
}

// Push appends a chunk. Returns false if the bridge is closed for
// writes.
func (b *bridge) Push(chunk []byte) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, chunk)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// CloseWrite marks end-of-input. Idempotent.
func (b *bridge) CloseWrite() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a chunk is available, the bridge is drained and
// closed (io.EOF), or ctx ends.
func (b *bridge) Next(ctx context.Context) ([]byte, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			chunk := b.queue[0]
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return chunk, nil
		}
		if b.closed {
			b.mu.Unlock()
			return nil, io.EOF
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.notify:
		}
	}
}

// Len reports the number of queued chunks.
func (b *bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
