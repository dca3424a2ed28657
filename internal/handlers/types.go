package handlers

import (
	"time"

	"floaagent/internal/taskpoll"
	"floaagent/internal/txflow"
	"floaagent/pkg/api/arcade"
)

// ErrorResponse is the uniform error shape for the control API.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WalletEventResponse acknowledges a queued wallet event.
type WalletEventResponse struct {
	Queued      bool   `json:"queued"`
	BridgeState string `json:"bridge_state"`
}

// SessionStatusResponse describes the current session.
type SessionStatusResponse struct {
	LoggedIn    bool         `json:"logged_in"`
	BridgeState string       `json:"bridge_state"`
	Address     string       `json:"address,omitempty"`
	User        *arcade.User `json:"user,omitempty"`
	LoginTime   time.Time    `json:"login_time,omitempty"`
	ExpiresAt   time.Time    `json:"expires_at,omitempty"`
}

// SessionTokenResponse carries the local JWT for protected routes.
type SessionTokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
}

// LogoutResponse acknowledges an explicit logout.
type LogoutResponse struct {
	LoggedOut bool `json:"logged_out"`
}

// OperationAcceptedResponse acknowledges a started operation. Progress is
// observed through the status endpoint.
type OperationAcceptedResponse struct {
	Operation string        `json:"operation"`
	Status    txflow.Status `json:"status"`
	RecordID  string        `json:"record_id,omitempty"`
}

// OperationStatusResponse is one engine's snapshot.
type OperationStatusResponse struct {
	Status txflow.Status `json:"status"`
	Result string        `json:"result"` // idle, succeeded, consumed
}

// OperationListResponse snapshots every engine created so far.
type OperationListResponse struct {
	Operations map[string]txflow.Status `json:"operations"`
}

// ConsumeResponse reports the one-shot success consumption.
type ConsumeResponse struct {
	Consumed bool   `json:"consumed"`
	TxHash   string `json:"tx_hash,omitempty"`
	Block    string `json:"block,omitempty"`
}

// PollResponse wraps a generation task snapshot.
type PollResponse struct {
	Task    taskpoll.GenerationTask `json:"task"`
	Started bool                    `json:"started,omitempty"`
}

// PollAckResponse confirms a finished run was evicted.
type PollAckResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

// AudioStatusResponse describes the playback queue.
type AudioStatusResponse struct {
	Pending   int `json:"pending"`
	NextIndex int `json:"next_index"`
}

// ChatConnectResponse acknowledges a conversation switch.
type ChatConnectResponse struct {
	ConversationID string `json:"conversation_id"`
}
