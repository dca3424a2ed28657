package audio

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"floaagent/pkg/logging"
)

type recordingPlayer struct {
	mu       sync.Mutex
	played   [][]byte
	playErr  map[string]error
	blockCtx bool // when set, Play blocks until ctx is cancelled
	started  chan string
}

func newRecordingPlayer() *recordingPlayer {
	return &recordingPlayer{started: make(chan string, 16)}
}

func (p *recordingPlayer) Play(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	p.played = append(p.played, payload)
	errFor := p.playErr[string(payload)]
	block := p.blockCtx
	p.mu.Unlock()

	select {
	case p.started <- string(payload):
	default:
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if errFor != nil {
		return errFor
	}
	return nil
}

func (p *recordingPlayer) playedOrder() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.played))
	for i, b := range p.played {
		out[i] = string(b)
	}
	return out
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestFragmentsPlayInIndexOrder(t *testing.T) {
	player := newRecordingPlayer()
	q := NewQueue(player, logging.NewLogger())

	// out-of-order arrival: 3 first, then 1, then 2
	if err := q.Enqueue(3, b64("three")); err != nil {
		t.Fatalf("Enqueue(3) failed: %v", err)
	}
	if err := q.Enqueue(1, b64("one")); err != nil {
		t.Fatalf("Enqueue(1) failed: %v", err)
	}
	if err := q.Enqueue(2, b64("two")); err != nil {
		t.Fatalf("Enqueue(2) failed: %v", err)
	}

	waitFor(t, func() bool { return len(player.playedOrder()) == 3 }, "fragments never finished")
	got := player.playedOrder()
	want := []string{"one", "two", "three"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("play order %v, want %v", got, want)
		}
	}
	if q.Pending() != 0 {
		t.Errorf("queue should be drained, %d pending", q.Pending())
	}
}

func TestHigherIndexWaitsForGap(t *testing.T) {
	player := newRecordingPlayer()
	q := NewQueue(player, logging.NewLogger())

	if err := q.Enqueue(2, b64("two")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if len(player.playedOrder()) != 0 {
		t.Fatal("fragment 2 must wait for fragment 1")
	}

	if err := q.Enqueue(1, b64("one")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	waitFor(t, func() bool { return len(player.playedOrder()) == 2 }, "fragments never played")
}

func TestStopAllCancelsAndResets(t *testing.T) {
	player := newRecordingPlayer()
	player.blockCtx = true
	q := NewQueue(player, logging.NewLogger())

	if err := q.Enqueue(1, b64("one")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(2, b64("two")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	<-player.started // fragment 1 is audible

	q.StopAll()

	// fragment 2 must never start
	select {
	case p := <-player.started:
		t.Fatalf("fragment %q started after StopAll", p)
	case <-time.After(100 * time.Millisecond):
	}
	if q.Pending() != 0 {
		t.Errorf("queue must be empty after StopAll, %d pending", q.Pending())
	}
	if q.NextIndex() != FirstIndex {
		t.Errorf("index must reset, got %d", q.NextIndex())
	}

	// a fresh turn starts clean at index 1
	player.mu.Lock()
	player.blockCtx = false
	player.mu.Unlock()
	if err := q.Enqueue(1, b64("fresh")); err != nil {
		t.Fatalf("Enqueue after StopAll failed: %v", err)
	}
	waitFor(t, func() bool {
		order := player.playedOrder()
		return len(order) > 0 && order[len(order)-1] == "fresh"
	}, "fresh fragment never played")
}

func TestPlaybackErrorAdvances(t *testing.T) {
	player := newRecordingPlayer()
	player.playErr = map[string]error{"bad": fmt.Errorf("decoder choked")}
	q := NewQueue(player, logging.NewLogger())

	if err := q.Enqueue(1, b64("bad")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(2, b64("good")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, func() bool {
		order := player.playedOrder()
		return len(order) == 2 && order[1] == "good"
	}, "queue stalled on a failing fragment")
}

func TestUndecodablePayloadOccupiesSlot(t *testing.T) {
	player := newRecordingPlayer()
	q := NewQueue(player, logging.NewLogger())

	if err := q.Enqueue(1, "not-base64!!!"); err == nil {
		t.Error("expected a decode error")
	}
	if err := q.Enqueue(2, b64("two")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// fragment 1 is skipped, fragment 2 still plays
	waitFor(t, func() bool {
		order := player.playedOrder()
		return len(order) == 1 && order[0] == "two"
	}, "queue stalled behind an undecodable fragment")
}

func TestStaleIndexRejected(t *testing.T) {
	player := newRecordingPlayer()
	q := NewQueue(player, logging.NewLogger())

	if err := q.Enqueue(1, b64("one")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	waitFor(t, func() bool { return q.NextIndex() == 2 }, "fragment never played")

	if err := q.Enqueue(1, b64("again")); err == nil {
		t.Error("replayed index must be rejected")
	}
}
