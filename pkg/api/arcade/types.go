// Package arcade defines the request and response types for the catalog
// backend ("arcade") consumed by the conductor.
//
// The backend wraps every response in a {code, msg, data} envelope. Code 0 is
// success; any non-zero code is a business rejection and must not be retried
// with the same parameters.
package arcade

import "fmt"

// User is the backend-issued identity record bound to a wallet address.
type User struct {
	ID         string `json:"id"`
	Account    string `json:"account"`
	Nickname   string `json:"nickname,omitempty"`
	InviteCode string `json:"invite_code,omitempty"`
	InvitedBy  string `json:"invited_by,omitempty"`
	TwitterID  string `json:"twitter_id,omitempty"`
}

// WalletLoginRequest submits a signed login challenge.
type WalletLoginRequest struct {
	ChainNamespace string `json:"chain_namespace"`
	Signer         string `json:"signer"`
	SignedMessage  string `json:"signed_message"`
	Message        string `json:"message"`
	Timestamp      int64  `json:"timestamp"`
}

// LoginData is the payload of a successful wallet login.
type LoginData struct {
	AccessToken string `json:"access_token"`
	User        User   `json:"user"`
}

// BindInviteRequest binds a pending invite code to the logged-in user.
type BindInviteRequest struct {
	InviteCode string `json:"invite_code"`
}

// InteractionSignRequest asks the backend to authorize a paid catalog action.
type InteractionSignRequest struct {
	Action   string `json:"action"`
	AgentID  string `json:"agent_id,omitempty"`
	Level    int    `json:"level,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

// Interaction actions accepted by the backend signing endpoint.
const (
	ActionCreateAgent   = "create_agent"
	ActionUpgradeAgent  = "upgrade_agent"
	ActionBuyTicket     = "buy_ticket"
	ActionAddSlot       = "add_slot"
	ActionGenerateVideo = "generate_video"
)

// AvatarManagementSignRequest asks the backend to authorize an avatar edit.
type AvatarManagementSignRequest struct {
	Action    string `json:"action"`
	AgentID   string `json:"agent_id"`
	Name      string `json:"name,omitempty"`
	VoiceID   string `json:"voice_id,omitempty"`
	SlotIndex int    `json:"slot_index,omitempty"`
}

// Avatar management actions.
const (
	ActionRenameAgent = "rename_agent"
	ActionChangeVoice = "change_voice"
	ActionDeleteSlot  = "delete_slot"
)

// WithdrawalSignRequest asks the backend to authorize a balance withdrawal.
type WithdrawalSignRequest struct {
	Amount string `json:"amount"` // wei, decimal string
}

// SignData is a backend-issued authorization: the contract verifies that
// (amount, nonce, expiry) were signed by the backend key.
type SignData struct {
	Amount    string `json:"amount"` // wei, decimal string
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
	Expiry    int64  `json:"expiry,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
}

// WithdrawalSignData extends SignData with the over-limit review flag.
// When ManualReview is set no signature is issued; the withdrawal waits for a
// human operator.
type WithdrawalSignData struct {
	SignData
	ManualReview bool `json:"manual_review"`
}

// TaskStatusData is the third-party media task status shape.
type TaskStatusData struct {
	Status     string   `json:"status"` // pending, processing, completed, failed
	ResultURLs []string `json:"result_urls,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// Record status values.
const (
	RecordStatusPending    = 0
	RecordStatusProcessing = 1
	RecordStatusDone       = 2
	RecordStatusFailed     = 3
)

// RecordStatusData is the first-party record status shape used for
// on-chain-gated generation.
type RecordStatusData struct {
	Status int    `json:"status"`
	URL    string `json:"url,omitempty"`
}

// APIError is a non-zero backend envelope code. It marks a business
// rejection: the request was understood and refused, so retrying with the
// same parameters will not help.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("arcade: code %d: %s", e.Code, e.Msg)
}
