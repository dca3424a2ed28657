// Package txflow orchestrates signed contract calls: backend authorization,
// optional token approval, execution, and exactly-once success observation.
// One generic engine; every paid feature is a thin parameterization of it.
package txflow

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"floaagent/internal/chain"
	"floaagent/pkg/api/arcade"
	"floaagent/pkg/logging"
)

// Step is the orchestrator's position in the transaction lifecycle.
type Step string

const (
	StepIdle         Step = "idle"
	StepFetchingAuth Step = "fetching-authorization"
	StepApproving    Step = "approving"
	StepExecuting    Step = "executing"
	StepConfirming   Step = "confirming"
	StepSucceeded    Step = "succeeded"
	StepFailed       Step = "failed"
	StepManualReview Step = "manual-review"
)

// Capability describes how one operation interacts with the chain.
type Capability struct {
	OperationName    string
	RequiresApproval bool
	Spender          string // contract allowed to pull tokens
	Token            string // ERC-20 used for payment
	ApprovalTimeout  time.Duration
	ConfirmTimeout   time.Duration
}

// CallSpec names the execution target. Opaque to the engine.
type CallSpec struct {
	Contract string
	Data     []byte
	Value    *big.Int // native value, nil for token-paid calls
}

// AuthorizeFunc fetches the backend authorization and builds the call.
// It returns the authorized amount so the engine can check the allowance.
type AuthorizeFunc func(ctx context.Context) (*CallSpec, *big.Int, error)

// ChainClient is the slice of the chain client the engine needs.
type ChainClient interface {
	Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
	SubmitTransaction(ctx context.Context, signer chain.TxSigner, to string, value *big.Int, data []byte) (string, error)
	WaitForReceipt(ctx context.Context, txHash string, timeout time.Duration) (*chain.Receipt, error)
}

// ResultKind is the one-shot success latch state.
type ResultKind int

const (
	ResultIdle ResultKind = iota
	ResultSucceeded
	ResultConsumed
)

// Result is the success latch. Succeeded carries the receipt exactly until
// the caller consumes it.
type Result struct {
	Kind    ResultKind
	Receipt *chain.Receipt
}

// Status is a snapshot of the pending transaction for diagnostics and the UI.
type Status struct {
	OperationName     string `json:"operation_name"`
	Step              Step   `json:"step"`
	ApproveTxHash     string `json:"approve_tx_hash,omitempty"`
	ExecuteTxHash     string `json:"execute_tx_hash,omitempty"`
	RequiredAllowance string `json:"required_allowance,omitempty"`
	CurrentAllowance  string `json:"current_allowance,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Engine drives one operation's transactions. One Execute at a time.
type Engine struct {
	mu sync.Mutex

	capability Capability
	chain      ChainClient
	signer     chain.TxSigner
	logger     logging.Logger

	step              Step
	busy              bool
	approveTxHash     string
	executeTxHash     string
	requiredAllowance *big.Int
	currentAllowance  *big.Int
	result            Result
	lastErr           error
}

// NewEngine creates an engine for one capability.
func NewEngine(capability Capability, chainClient ChainClient, signer chain.TxSigner, logger logging.Logger) *Engine {
	if capability.ApprovalTimeout == 0 {
		capability.ApprovalTimeout = 2 * time.Minute
	}
	if capability.ConfirmTimeout == 0 {
		capability.ConfirmTimeout = 5 * time.Minute
	}
	return &Engine{
		capability: capability,
		chain:      chainClient,
		signer:     signer,
		logger:     logger,
		step:       StepIdle,
	}
}

// Execute runs one full attempt: authorization, optional approval, execution,
// confirmation. Returns a typed error on failure; never auto-retries.
func (e *Engine) Execute(ctx context.Context, authorize AuthorizeFunc) error {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return ErrBusy
	}
	e.busy = true
	e.step = StepFetchingAuth
	e.lastErr = nil
	e.approveTxHash = ""
	e.executeTxHash = ""
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.busy = false
		e.mu.Unlock()
	}()

	log := e.logger.WithField("operation", e.capability.OperationName)

	call, amount, err := authorize(ctx)
	if err != nil {
		if errors.Is(err, ErrManualReview) {
			e.setStep(StepManualReview)
			log.Info("Authorization held for manual review")
			return err
		}
		return e.fail(log, classify(err))
	}

	if e.capability.RequiresApproval {
		if err := e.ensureAllowance(ctx, log, amount); err != nil {
			return e.fail(log, err)
		}
	}

	e.setStep(StepExecuting)
	execHash, err := e.chain.SubmitTransaction(ctx, e.signer, call.Contract, call.Value, call.Data)
	if err != nil {
		return e.fail(log, classify(err))
	}
	e.mu.Lock()
	e.executeTxHash = execHash
	e.step = StepConfirming
	e.mu.Unlock()

	receipt, err := e.chain.WaitForReceipt(ctx, execHash, e.capability.ConfirmTimeout)
	if err != nil {
		return e.fail(log, classify(err))
	}

	e.mu.Lock()
	e.step = StepSucceeded
	e.result = Result{Kind: ResultSucceeded, Receipt: receipt}
	e.mu.Unlock()

	log.WithField("tx_hash", execHash).Info("Transaction confirmed")
	return nil
}

// ensureAllowance checks the current allowance and, only when short, submits
// an approval and waits for it with a hard timeout.
func (e *Engine) ensureAllowance(ctx context.Context, log logging.Entry, amount *big.Int) error {
	allowance, err := e.chain.Allowance(ctx, e.capability.Token, e.signer.Address(), e.capability.Spender)
	if err != nil {
		return classify(err)
	}

	e.mu.Lock()
	e.requiredAllowance = new(big.Int).Set(amount)
	e.currentAllowance = allowance
	e.mu.Unlock()

	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	e.setStep(StepApproving)
	approveHash, err := e.chain.SubmitTransaction(ctx, e.signer, e.capability.Token, nil,
		chain.ApproveCalldata(e.capability.Spender, amount))
	if err != nil {
		return classify(err)
	}
	e.mu.Lock()
	e.approveTxHash = approveHash
	e.mu.Unlock()

	approveCtx, cancel := context.WithTimeout(ctx, e.capability.ApprovalTimeout)
	defer cancel()
	if _, err := e.chain.WaitForReceipt(approveCtx, approveHash, e.capability.ApprovalTimeout); err != nil {
		if errors.Is(err, chain.ErrReverted) {
			return ErrExecutionReverted
		}
		// The approval never confirmed; the caller must know, not guess
		log.WithField("tx_hash", approveHash).Warn("Approval did not confirm before timeout")
		return ErrApprovalTimeout
	}
	return nil
}

func (e *Engine) fail(log logging.Entry, err error) error {
	e.mu.Lock()
	e.step = StepFailed
	e.lastErr = err
	e.mu.Unlock()
	log.WithError(err).Error("Transaction attempt failed")
	return err
}

func (e *Engine) setStep(step Step) {
	e.mu.Lock()
	e.step = step
	e.mu.Unlock()
}

// Result returns the current latch state without consuming it.
func (e *Engine) Result() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// Consume transitions Succeeded to Consumed and returns the receipt. The
// second return is false when there was nothing to consume, so duplicate
// effect evaluations observe success at most once.
func (e *Engine) Consume() (*chain.Receipt, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result.Kind != ResultSucceeded {
		return nil, false
	}
	receipt := e.result.Receipt
	e.result = Result{Kind: ResultConsumed, Receipt: receipt}
	return receipt, true
}

// Reset rearms the engine for another attempt. No-op while busy.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return
	}
	e.step = StepIdle
	e.result = Result{}
	e.lastErr = nil
	e.approveTxHash = ""
	e.executeTxHash = ""
	e.requiredAllowance = nil
	e.currentAllowance = nil
}

// Status returns a snapshot for the UI.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		OperationName: e.capability.OperationName,
		Step:          e.step,
		ApproveTxHash: e.approveTxHash,
		ExecuteTxHash: e.executeTxHash,
	}
	if st.Step == "" {
		st.Step = StepIdle
	}
	if e.requiredAllowance != nil {
		st.RequiredAllowance = e.requiredAllowance.String()
	}
	if e.currentAllowance != nil {
		st.CurrentAllowance = e.currentAllowance.String()
	}
	if e.lastErr != nil {
		st.Error = e.lastErr.Error()
	}
	return st
}

// classify maps raw failures onto the error taxonomy.
func classify(err error) error {
	var apiErr *arcade.APIError
	switch {
	case errors.As(err, &apiErr):
		return &BusinessError{Code: apiErr.Code, Msg: apiErr.Msg}
	case errors.Is(err, chain.ErrReverted):
		return ErrExecutionReverted
	case errors.Is(err, ErrWalletRejected),
		errors.Is(err, ErrApprovalTimeout),
		errors.Is(err, ErrExecutionReverted),
		errors.Is(err, ErrBusinessRejected):
		return err
	default:
		return &TransientError{Cause: err}
	}
}

// BusinessError carries the backend rejection verbatim for the UI.
type BusinessError struct {
	Code int
	Msg  string
}

func (e *BusinessError) Error() string { return e.Msg }

// Is makes errors.Is(err, ErrBusinessRejected) true for backend rejections.
func (e *BusinessError) Is(target error) bool { return target == ErrBusinessRejected }

// TransientError wraps a retryable transport failure.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string { return e.Cause.Error() }
func (e *TransientError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrTransientNetwork) true for transport failures.
func (e *TransientError) Is(target error) bool { return target == ErrTransientNetwork }
