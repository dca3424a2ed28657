// Package validation defines the conductor's request payloads and validates
// them before any backend or chain call is made.
package validation

import (
	"fmt"
	"math/big"

	"github.com/go-playground/validator/v10"
)

// Wallet event kinds accepted from the wallet provider bridge.
const (
	EventAccountChanged    = "accountChanged"
	EventNetworkChanged    = "networkChanged"
	EventConnectionChanged = "connectionChanged"
)

// WalletEventRequest is a raw wallet provider event. Address is empty on
// disconnect notifications.
type WalletEventRequest struct {
	Type      string `json:"type" validate:"required,oneof=accountChanged networkChanged connectionChanged"`
	Address   string `json:"address,omitempty" validate:"omitempty,eth_addr"`
	ChainID   int64  `json:"chain_id,omitempty"`
	Connected bool   `json:"connected,omitempty"`
}

// CreateAgentRequest starts the paid agent creation flow.
type CreateAgentRequest struct {
	Prompt string `json:"prompt" validate:"required,min=1,max=2000"`
}

// UpgradeAgentRequest raises an agent's level.
type UpgradeAgentRequest struct {
	AgentID string `json:"agent_id" validate:"required,number"`
	Level   int    `json:"level" validate:"required,min=1,max=100"`
}

// BuyTicketRequest purchases interaction tickets.
type BuyTicketRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1,max=100"`
}

// AddSlotRequest buys an extra media slot.
type AddSlotRequest struct {
	AgentID string `json:"agent_id" validate:"required,number"`
}

// GenerateVideoRequest pays for a video generation.
type GenerateVideoRequest struct {
	AgentID string `json:"agent_id" validate:"required,number"`
	Prompt  string `json:"prompt" validate:"required,min=1,max=2000"`
}

// RenameAgentRequest changes an agent's display name.
type RenameAgentRequest struct {
	AgentID string `json:"agent_id" validate:"required,number"`
	Name    string `json:"name" validate:"required,min=1,max=64"`
}

// ChangeVoiceRequest switches an agent's voice model.
type ChangeVoiceRequest struct {
	AgentID string `json:"agent_id" validate:"required,number"`
	VoiceID string `json:"voice_id" validate:"required,max=64"`
}

// DeleteSlotRequest removes a media slot.
type DeleteSlotRequest struct {
	AgentID   string `json:"agent_id" validate:"required,number"`
	SlotIndex int    `json:"slot_index" validate:"min=0"`
}

// WithdrawRequest pays out earned balance. Amount is a decimal token amount
// in base units.
type WithdrawRequest struct {
	Amount string `json:"amount" validate:"required,number"`
}

// Poll kinds map to the two task status shapes.
const (
	PollKindTask   = "task"
	PollKindRecord = "record"
)

// PollStartRequest begins polling a generation task.
type PollStartRequest struct {
	TaskID      string `json:"task_id" validate:"required,max=128"`
	Kind        string `json:"kind" validate:"required,oneof=task record"`
	MaxAttempts int    `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=600"`
	IntervalMs  int    `json:"interval_ms,omitempty" validate:"omitempty,min=100,max=60000"`
}

// AudioEnqueueRequest adds one voice fragment to the playback queue.
type AudioEnqueueRequest struct {
	Order   int    `json:"order" validate:"required,min=1"`
	Payload string `json:"payload" validate:"required,base64"`
}

// ChatConnectRequest switches the active conversation stream.
type ChatConnectRequest struct {
	ConversationID string `json:"conversation_id" validate:"required,max=128"`
}

// RequestValidator performs structural and semantic validation for conductor
// request payloads.
type RequestValidator struct {
	validator *validator.Validate
}

// NewRequestValidator constructs a RequestValidator with standard struct
// validation.
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{
		validator: validator.New(),
	}
}

// Validate checks struct tags and applies per-type semantic rules.
func (v *RequestValidator) Validate(req interface{}) error {
	if err := v.validator.Struct(req); err != nil {
		return fmt.Errorf("request validation failed: %w", err)
	}

	switch r := req.(type) {
	case *WalletEventRequest:
		return v.validateWalletEvent(r)
	case *WithdrawRequest:
		return v.validateWithdraw(r)
	}
	return nil
}

func (v *RequestValidator) validateWalletEvent(r *WalletEventRequest) error {
	if r.Type == EventNetworkChanged && r.ChainID <= 0 {
		return fmt.Errorf("networkChanged requires a positive chain_id")
	}
	return nil
}

func (v *RequestValidator) validateWithdraw(r *WithdrawRequest) error {
	amount, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok {
		return fmt.Errorf("amount is not a valid integer")
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}
