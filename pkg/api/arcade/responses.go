package arcade

// Envelope is the common response wrapper. Code 0 means success.
type Envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
}

// OK reports whether the backend accepted the request.
func (e Envelope) OK() bool { return e.Code == 0 }

// Err returns the envelope as an *APIError, or nil when Code is 0.
func (e Envelope) Err() error {
	if e.Code == 0 {
		return nil
	}
	return &APIError{Code: e.Code, Msg: e.Msg}
}

// ServerTimestampResponse carries the anti-replay timestamp for login.
type ServerTimestampResponse struct {
	Envelope
	Data struct {
		Timestamp int64 `json:"timestamp"` // unix milliseconds
	} `json:"data"`
}

// WalletLoginResponse is the response to WalletLoginRequest.
type WalletLoginResponse struct {
	Envelope
	Data LoginData `json:"data"`
}

// CurrentUserResponse is the response to the current-user query.
type CurrentUserResponse struct {
	Envelope
	Data User `json:"data"`
}

// BindInviteResponse is the response to BindInviteRequest.
type BindInviteResponse struct {
	Envelope
}

// SignResponse is the response to interaction and avatar-management sign
// requests.
type SignResponse struct {
	Envelope
	Data SignData `json:"data"`
}

// WithdrawalSignResponse is the response to WithdrawalSignRequest.
type WithdrawalSignResponse struct {
	Envelope
	Data WithdrawalSignData `json:"data"`
}

// TaskStatusResponse is the response to the media task status query.
type TaskStatusResponse struct {
	Envelope
	Data TaskStatusData `json:"data"`
}

// RecordStatusResponse is the response to the record status query.
type RecordStatusResponse struct {
	Envelope
	Data RecordStatusData `json:"data"`
}
