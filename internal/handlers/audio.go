package handlers

import (
	"net/http"

	"floaagent/pkg/middleware"
	"floaagent/pkg/validation"
)

// EnqueueAudio adds one voice fragment to the playback queue.
func EnqueueAudio(c middleware.Context) {
	var req validation.AudioEnqueueRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := queue.Enqueue(req.Order, req.Payload); err != nil {
		if metrics != nil {
			metrics.AudioFragments.WithLabelValues("rejected").Inc()
		}
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		return
	}
	if metrics != nil {
		metrics.AudioFragments.WithLabelValues("enqueued").Inc()
	}
	c.JSON(http.StatusAccepted, AudioStatusResponse{Pending: queue.Pending(), NextIndex: queue.NextIndex()})
}

// StopAudio halts playback and drops everything queued.
func StopAudio(c middleware.Context) {
	queue.StopAll()
	c.JSON(http.StatusOK, AudioStatusResponse{Pending: queue.Pending(), NextIndex: queue.NextIndex()})
}

// GetAudioStatus reports the queue state.
func GetAudioStatus(c middleware.Context) {
	c.JSON(http.StatusOK, AudioStatusResponse{Pending: queue.Pending(), NextIndex: queue.NextIndex()})
}

// ConnectChat switches the active conversation stream. Pending audio from the
// previous conversation is dropped.
func ConnectChat(c middleware.Context) {
	if !requireSession(c) {
		return
	}
	var req validation.ChatConnectRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := chatStream.Connect(c.Request.Context(), req.ConversationID); err != nil {
		middleware.GetContextLogger(c, logger).WithError(err).Error("Conversation connect failed")
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Failed to connect conversation stream"})
		return
	}
	c.JSON(http.StatusOK, ChatConnectResponse{ConversationID: req.ConversationID})
}

// DisconnectChat closes the conversation stream and stops playback.
func DisconnectChat(c middleware.Context) {
	chatStream.Close()
	queue.StopAll()
	c.JSON(http.StatusOK, ChatConnectResponse{})
}
