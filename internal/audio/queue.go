// Package audio orders and serializes playback of streamed voice fragments.
// Fragments arrive with a sequence index and possibly out of order; the queue
// releases them to the player strictly in index order, one at a time.
package audio

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"floaagent/pkg/logging"
)

// FirstIndex is where a fresh conversation turn starts.
const FirstIndex = 1

// Player renders one decoded fragment. Play blocks until the fragment has
// finished or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, payload []byte) error
}

// Queue holds fragments until their turn. At most one fragment is ever
// playing; a fragment whose lower-indexed predecessors have not arrived waits.
type Queue struct {
	player Player
	logger logging.Logger

	mu      sync.Mutex
	pending map[int][]byte
	next    int
	playing bool
	gen     int // bumped by StopAll so a stale drain loop exits
	cancel  context.CancelFunc
}

// NewQueue creates an empty queue.
func NewQueue(player Player, logger logging.Logger) *Queue {
	return &Queue{
		player:  player,
		logger:  logger,
		pending: make(map[int][]byte),
		next:    FirstIndex,
	}
}

// Enqueue adds a base64 fragment at the given sequence index. An undecodable
// payload still occupies its slot so the queue never stalls waiting for it.
func (q *Queue) Enqueue(order int, payload string) error {
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		q.logger.WithError(err).WithField("order", order).Warn("Dropping undecodable audio fragment")
		decoded = nil
	}

	q.mu.Lock()
	if order < q.next {
		q.mu.Unlock()
		return fmt.Errorf("fragment %d already played or stopped", order)
	}
	q.pending[order] = decoded
	start := !q.playing && q.hasNextLocked()
	if start {
		q.playing = true
	}
	gen := q.gen
	q.mu.Unlock()

	if start {
		go q.drain(gen)
	}
	if decoded == nil {
		return fmt.Errorf("fragment %d is not valid base64: %w", order, err)
	}
	return nil
}

// StopAll halts playback immediately, drops everything queued, and resets the
// index for a fresh conversation turn.
func (q *Queue) StopAll() {
	q.mu.Lock()
	q.gen++
	q.playing = false
	q.pending = make(map[int][]byte)
	q.next = FirstIndex
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Pending returns how many fragments are queued but not yet played.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// NextIndex returns the index the queue will play next.
func (q *Queue) NextIndex() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.next
}

func (q *Queue) hasNextLocked() bool {
	_, ok := q.pending[q.next]
	return ok
}

// drain plays ready fragments in order until the sequence has a gap or
// StopAll invalidates this generation.
func (q *Queue) drain(gen int) {
	for {
		q.mu.Lock()
		if q.gen != gen {
			q.mu.Unlock()
			return
		}
		payload, ok := q.pending[q.next]
		if !ok {
			q.playing = false
			q.mu.Unlock()
			return
		}
		delete(q.pending, q.next)
		order := q.next
		q.next++
		ctx, cancel := context.WithCancel(context.Background())
		q.cancel = cancel
		q.mu.Unlock()

		if payload != nil {
			if err := q.player.Play(ctx, payload); err != nil {
				// Fail closed per fragment; the turn keeps going
				q.logger.WithError(err).WithField("order", order).Warn("Fragment playback failed, advancing")
			}
		}
		cancel()

		q.mu.Lock()
		if q.gen == gen {
			q.cancel = nil
		}
		q.mu.Unlock()
	}
}
