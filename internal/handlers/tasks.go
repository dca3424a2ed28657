package handlers

import (
	"context"
	"net/http"
	"time"

	"floaagent/internal/taskpoll"
	"floaagent/pkg/middleware"
	"floaagent/pkg/validation"
)

// StartPoll begins polling a generation task. A duplicate start for an id
// already polling joins the existing run.
func StartPoll(c middleware.Context) {
	if !requireSession(c) {
		return
	}
	var req validation.PollStartRequest
	if !bindAndValidate(c, &req) {
		return
	}

	var statusFn taskpoll.StatusFunc
	switch req.Kind {
	case validation.PollKindTask:
		statusFn = taskpoll.NewTaskStatusFunc(statusBackend, tokens)
	case validation.PollKindRecord:
		statusFn = taskpoll.NewRecordStatusFunc(statusBackend, tokens)
	}

	opts := taskpoll.Options{
		MaxAttempts: req.MaxAttempts,
		Interval:    time.Duration(req.IntervalMs) * time.Millisecond,
	}
	run, started := poller.Start(context.Background(), req.TaskID, statusFn, opts)

	c.JSON(http.StatusAccepted, PollResponse{Task: run.Task(), Started: started})
}

// GetPollStatus returns the current snapshot of a polling run. Finished runs
// stay readable until they are acknowledged.
func GetPollStatus(c middleware.Context) {
	taskID := c.Param("task_id")
	run, ok := poller.Lookup(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "No poll for task"})
		return
	}
	c.JSON(http.StatusOK, PollResponse{Task: run.Task()})
}

// AcknowledgePoll evicts a finished polling run so the task id can be polled
// afresh. Active runs cannot be acknowledged.
func AcknowledgePoll(c middleware.Context) {
	taskID := c.Param("task_id")
	if !poller.Acknowledge(taskID) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "No finished poll to acknowledge"})
		return
	}
	c.JSON(http.StatusOK, PollAckResponse{Acknowledged: true})
}
