package taskpoll

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"floaagent/pkg/api/arcade"
	"floaagent/pkg/logging"
)

func newTestPoller() *Poller {
	return NewPoller(Config{Logger: logging.NewLogger()})
}

func countingStatus(calls *atomic.Int32, fn func(attempt int32) (*Update, error)) StatusFunc {
	return func(ctx context.Context, taskID string) (*Update, error) {
		return fn(calls.Add(1))
	}
}

func TestPollTerminatesAtExactlyMaxAttempts(t *testing.T) {
	p := newTestPoller()
	var calls atomic.Int32
	fn := countingStatus(&calls, func(int32) (*Update, error) {
		return &Update{Status: StatusProcessing}, nil
	})

	run, started := p.Start(context.Background(), "t-1", fn, Options{MaxAttempts: 3, Interval: time.Millisecond})
	if !started {
		t.Fatal("expected a new run")
	}
	task, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if task.Status != StatusTimeout {
		t.Errorf("expected timeout, got %s", task.Status)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected exactly 3 status requests, got %d", got)
	}
	if task.Attempt != 3 {
		t.Errorf("expected attempt 3 recorded, got %d", task.Attempt)
	}
	// timeout is not a failure
	if task.Status == StatusFailed {
		t.Error("exhaustion must not be reported as failed")
	}
}

func TestPollShortCircuitsOnCompleted(t *testing.T) {
	p := newTestPoller()
	var calls atomic.Int32
	fn := countingStatus(&calls, func(attempt int32) (*Update, error) {
		if attempt >= 2 {
			return &Update{Status: StatusCompleted, ResultURLs: []string{"https://cdn/video.mp4"}}, nil
		}
		return &Update{Status: StatusProcessing}, nil
	})

	run, _ := p.Start(context.Background(), "t-2", fn, Options{MaxAttempts: 5, Interval: time.Millisecond})
	task, _ := run.Wait(context.Background())

	if task.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", task.Status)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected no request after completion, got %d requests", got)
	}
	if len(task.ResultURLs) != 1 || task.ResultURLs[0] != "https://cdn/video.mp4" {
		t.Errorf("result urls not carried: %v", task.ResultURLs)
	}
}

func TestTransientErrorsAreRetriedSilently(t *testing.T) {
	p := newTestPoller()
	var calls atomic.Int32
	fn := countingStatus(&calls, func(attempt int32) (*Update, error) {
		if attempt == 2 {
			return nil, fmt.Errorf("connection reset")
		}
		if attempt == 3 {
			return &Update{Status: StatusCompleted}, nil
		}
		return &Update{Status: StatusProcessing}, nil
	})

	run, _ := p.Start(context.Background(), "t-3", fn, Options{MaxAttempts: 5, Interval: time.Millisecond})
	task, _ := run.Wait(context.Background())

	if task.Status != StatusCompleted {
		t.Errorf("transient error must not be terminal, got %s", task.Status)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestUnknownTaskOnFirstAttemptFailsHard(t *testing.T) {
	p := newTestPoller()
	var calls atomic.Int32
	fn := countingStatus(&calls, func(int32) (*Update, error) {
		return nil, fmt.Errorf("%w: no such task", ErrNotFound)
	})

	run, _ := p.Start(context.Background(), "t-4", fn, Options{MaxAttempts: 5, Interval: time.Millisecond})
	task, _ := run.Wait(context.Background())

	if task.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", task.Status)
	}
	if calls.Load() != 1 {
		t.Errorf("a missing task must not be retried, got %d attempts", calls.Load())
	}
}

func TestDuplicateStartJoinsExistingRun(t *testing.T) {
	p := newTestPoller()
	release := make(chan struct{})
	var calls atomic.Int32
	fn := func(ctx context.Context, taskID string) (*Update, error) {
		calls.Add(1)
		<-release
		return &Update{Status: StatusCompleted, ResultURLs: []string{"https://cdn/v.mp4"}}, nil
	}

	first, started := p.Start(context.Background(), "t-5", fn, Options{MaxAttempts: 3, Interval: time.Millisecond})
	if !started {
		t.Fatal("expected a new run")
	}
	second, started := p.Start(context.Background(), "t-5", fn, Options{MaxAttempts: 3, Interval: time.Millisecond})
	if started {
		t.Error("second start for the same id must be a no-op")
	}
	if first != second {
		t.Error("duplicate start must return the run already in flight")
	}
	if p.Acknowledge("t-5") {
		t.Error("an active run must not be evictable")
	}

	close(release)
	if task, _ := first.Wait(context.Background()); task.Status != StatusCompleted {
		t.Errorf("unexpected terminal status %s", task.Status)
	}

	// The finished run stays observable with its result
	run, ok := p.Lookup("t-5")
	if !ok {
		t.Fatal("finished run must stay in the registry")
	}
	if urls := run.Task().ResultURLs; len(urls) != 1 || urls[0] != "https://cdn/v.mp4" {
		t.Errorf("terminal snapshot lost its result urls: %v", urls)
	}

	// Restarting a finished id joins the terminal run without polling again
	again, started := p.Start(context.Background(), "t-5", fn, Options{MaxAttempts: 3, Interval: time.Millisecond})
	if started {
		t.Error("restarting a finished id must not poll again")
	}
	if again.Task().Status != StatusCompleted {
		t.Errorf("restart must surface the terminal snapshot, got %s", again.Task().Status)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected no further status requests after completion, got %d", got)
	}

	// Acknowledgment frees the id for a fresh run
	if !p.Acknowledge("t-5") {
		t.Error("expected acknowledge to evict the finished run")
	}
	if _, ok := p.Lookup("t-5"); ok {
		t.Error("acknowledged run must be gone")
	}
}

func TestCancellationStopsScheduling(t *testing.T) {
	p := newTestPoller()
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	fn := countingStatus(&calls, func(attempt int32) (*Update, error) {
		if attempt == 1 {
			cancel()
		}
		return &Update{Status: StatusProcessing}, nil
	})

	run, _ := p.Start(ctx, "t-6", fn, Options{MaxAttempts: 100, Interval: time.Hour})
	<-run.Done()

	if got := calls.Load(); got != 1 {
		t.Errorf("abandoned poll must not schedule further attempts, got %d", got)
	}
	if run.Task().Terminal() {
		t.Error("an abandoned run must not claim a terminal outcome")
	}
	if _, ok := p.Lookup("t-6"); ok {
		t.Error("abandoned run must free its id")
	}
}

func TestMapTaskStatus(t *testing.T) {
	upd := MapTaskStatus(&arcade.TaskStatusData{Status: "completed", ResultURLs: []string{"u1", "u2"}})
	if upd.Status != StatusCompleted || len(upd.ResultURLs) != 2 {
		t.Errorf("unexpected mapping: %+v", upd)
	}
	if MapTaskStatus(&arcade.TaskStatusData{Status: "failed", Message: "nsfw"}).Status != StatusFailed {
		t.Error("failed must map to failed")
	}
	if MapTaskStatus(&arcade.TaskStatusData{Status: "pending"}).Status != StatusProcessing {
		t.Error("pending must keep polling")
	}
	if MapTaskStatus(&arcade.TaskStatusData{Status: "something-new"}).Status != StatusProcessing {
		t.Error("unknown status must keep polling")
	}
}

func TestMapRecordStatus(t *testing.T) {
	upd := MapRecordStatus(&arcade.RecordStatusData{Status: arcade.RecordStatusDone, URL: "https://cdn/r.mp4"})
	if upd.Status != StatusCompleted || len(upd.ResultURLs) != 1 {
		t.Errorf("unexpected mapping: %+v", upd)
	}
	if MapRecordStatus(&arcade.RecordStatusData{Status: arcade.RecordStatusFailed}).Status != StatusFailed {
		t.Error("3 must map to failed")
	}
	if MapRecordStatus(&arcade.RecordStatusData{Status: arcade.RecordStatusPending}).Status != StatusProcessing {
		t.Error("0 must keep polling")
	}
}

type notFoundBackend struct{}

func (notFoundBackend) TaskStatus(ctx context.Context, accessToken, taskID string) (*arcade.TaskStatusData, error) {
	return nil, &arcade.APIError{Code: 4004, Msg: "no such task"}
}

func (notFoundBackend) RecordStatus(ctx context.Context, accessToken, recordID string) (*arcade.RecordStatusData, error) {
	return nil, &arcade.APIError{Code: 4004, Msg: "no such record"}
}

type fixedToken string

func (s fixedToken) AccessToken() string { return string(s) }

func TestStatusFuncClassifiesNotFound(t *testing.T) {
	fn := NewTaskStatusFunc(notFoundBackend{}, fixedToken("tok"))
	_, err := fn(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected an error")
	}
	p := newTestPoller()
	run, _ := p.Start(context.Background(), "missing", fn, Options{MaxAttempts: 3, Interval: time.Millisecond})
	task, _ := run.Wait(context.Background())
	if task.Status != StatusFailed {
		t.Errorf("unknown id must fail hard, got %s", task.Status)
	}
}
