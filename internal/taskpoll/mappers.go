package taskpoll

import (
	"context"
	"errors"
	"fmt"

	"floaagent/pkg/api/arcade"
)

// StatusBackend is the slice of the arcade client the poller consumes.
type StatusBackend interface {
	TaskStatus(ctx context.Context, accessToken, taskID string) (*arcade.TaskStatusData, error)
	RecordStatus(ctx context.Context, accessToken, recordID string) (*arcade.RecordStatusData, error)
}

// TokenProvider supplies the session access token per call.
type TokenProvider interface {
	AccessToken() string
}

// Backend code for an unknown task or record id.
const codeNotFound = 4004

// MapTaskStatus converts the third-party media task shape.
func MapTaskStatus(d *arcade.TaskStatusData) *Update {
	switch d.Status {
	case "completed", "succeeded":
		return &Update{Status: StatusCompleted, ResultURLs: d.ResultURLs, Message: d.Message}
	case "failed":
		return &Update{Status: StatusFailed, Message: d.Message}
	default:
		// pending, processing, running, and anything unrecognized keep polling
		return &Update{Status: StatusProcessing}
	}
}

// MapRecordStatus converts the first-party record shape.
func MapRecordStatus(d *arcade.RecordStatusData) *Update {
	switch d.Status {
	case arcade.RecordStatusDone:
		upd := &Update{Status: StatusCompleted}
		if d.URL != "" {
			upd.ResultURLs = []string{d.URL}
		}
		return upd
	case arcade.RecordStatusFailed:
		return &Update{Status: StatusFailed, Message: "generation failed"}
	default:
		return &Update{Status: StatusProcessing}
	}
}

// NewTaskStatusFunc builds a StatusFunc over the media task endpoint.
func NewTaskStatusFunc(backend StatusBackend, tokens TokenProvider) StatusFunc {
	return func(ctx context.Context, taskID string) (*Update, error) {
		data, err := backend.TaskStatus(ctx, tokens.AccessToken(), taskID)
		if err != nil {
			return nil, classifyStatusErr(err)
		}
		return MapTaskStatus(data), nil
	}
}

// NewRecordStatusFunc builds a StatusFunc over the record endpoint.
func NewRecordStatusFunc(backend StatusBackend, tokens TokenProvider) StatusFunc {
	return func(ctx context.Context, recordID string) (*Update, error) {
		data, err := backend.RecordStatus(ctx, tokens.AccessToken(), recordID)
		if err != nil {
			return nil, classifyStatusErr(err)
		}
		return MapRecordStatus(data), nil
	}
}

func classifyStatusErr(err error) error {
	var apiErr *arcade.APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Msg)
	}
	return err
}
