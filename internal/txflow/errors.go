package txflow

import "errors"

// Typed failures surfaced from Execute. Callers decide messaging; the engine
// never auto-retries any of them.
var (
	// ErrWalletRejected means the wallet user declined to sign.
	ErrWalletRejected = errors.New("txflow: wallet rejected the request")
	// ErrApprovalTimeout means the approval transaction never confirmed
	// within the capability's timeout.
	ErrApprovalTimeout = errors.New("txflow: approval did not confirm in time")
	// ErrExecutionReverted means the execution transaction reverted on-chain.
	ErrExecutionReverted = errors.New("txflow: execution reverted")
	// ErrBusinessRejected means the backend declined the business parameters.
	// Retrying with the same inputs will not help.
	ErrBusinessRejected = errors.New("txflow: authorization rejected by backend")
	// ErrTransientNetwork is a retryable transport failure.
	ErrTransientNetwork = errors.New("txflow: transient network failure")
	// ErrManualReview means the backend withheld the authorization pending
	// human review. Terminal for this attempt, distinct from failure.
	ErrManualReview = errors.New("txflow: pending manual review")
	// ErrBusy means a prior Execute on the same engine has not finished.
	ErrBusy = errors.New("txflow: transaction already in progress")
)
