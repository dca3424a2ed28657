package handlers

import (
	"context"
	"net/http"

	"floaagent/internal/taskpoll"
	"floaagent/internal/txflow"
	"floaagent/pkg/api/arcade"
	"floaagent/pkg/middleware"
	"floaagent/pkg/validation"
)

// runOperation starts a transaction flow in the background and answers 202
// with the engine's snapshot. Busy engines answer 409 immediately; everything
// else surfaces through GetOperationStatus.
func runOperation(c middleware.Context, operation string, requiresApproval bool, run func(ctx context.Context) error) {
	eng := ops.Engine(operation, requiresApproval)
	switch eng.Status().Step {
	case txflow.StepFetchingAuth, txflow.StepApproving, txflow.StepExecuting, txflow.StepConfirming:
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Operation already in progress"})
		return
	}

	log := middleware.GetContextLogger(c, logger).WithField("operation", operation)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()
		outcome := "succeeded"
		if err := run(ctx); err != nil {
			// Classified and recorded on the engine; nothing more to do here
			log.WithError(err).Debug("Operation finished with error")
			outcome = "failed"
		}
		if metrics != nil {
			metrics.Operations.WithLabelValues(operation, outcome).Inc()
		}
	}()

	c.JSON(http.StatusAccepted, OperationAcceptedResponse{Operation: operation, Status: eng.Status()})
}

// CreateAgent starts the paid agent creation flow.
func CreateAgent(c middleware.Context) {
	if !requireSession(c) {
		return
	}
	var req validation.CreateAgentRequest
	if !bindAndValidate(c, &req) {
		return
	}
	runOperation(c, arcade.ActionCreateAgent, true, func(ctx context.Context) error {
		return ops.CreateAgent(ctx, req.Prompt)
	})
}

// UpgradeAgent starts the level upgrade flow.
func UpgradeAgent(c middleware.Context) {
	if !requireSession(c) {
		return
	}
	var req validation.UpgradeAgentRequest
	if !bindAndValidate(c, &req) {
		return
	}
	runOperation(c, arcade.ActionUpgradeAgent, true, func(ctx context.Context) error {
		return ops.UpgradeAgent(ctx, req.AgentID, req.Level)
	})
}

// BuyTicket starts the ticket purchase flow.
func BuyTicket(c middleware.Context) {
	if !requireSession(c) {
		return
	}
	var req validation.BuyTicketRequest
	if !bindAndValidate(c, &req) {
		return
	}
	runOperation(c, arcade.ActionBuyTicket, true, func(ctx context.Context) error {
		return ops.BuyTicket(ctx, req.Quantity)
	})
}

// AddSlot starts the slot purchase flow.
func AddSlot(c middleware.Context) {
	if !requireSession(c) {
		return
	}
	var req validation.AddSlotRequest
	if !bindAndValidate(c, &req) {
		return
	}
	runOperation(c, arcade.ActionAddSlot, true, func(ctx context.Context) error {
		return ops.AddSlot(ctx, req.AgentID)
	})
}

// GenerateVideo starts the paid generation flow. Once the transaction
// confirms, polling for the resulting record begins automatically.
func GenerateVideo(c middleware.Context) {
	if !requireSession(c) {
		return
	}
	var req validation.GenerateVideoRequest
	if !bindAndValidate(c, &req) {
		return
	}
	runOperation(c, arcade.ActionGenerateVideo, true, func(ctx context.Context) error {
		recordID, err := ops.GenerateVideo(ctx, req.AgentID, req.Prompt)
		if err != nil {
			return err
		}
		poller.Start(context.Background(), recordID,
			taskpoll.NewRecordStatusFunc(statusBackend, tokens), taskpoll.Options{})
		return nil
	})
}

// RenameAgent starts the rename flow.
func RenameAgent(c middleware.Context) {
	if !requireSession(c) {
		return
	}
	var req validation.RenameAgentRequest
	if !bindAndValidate(c, &req) {
		return
	}
	runOperation(c, arcade.ActionRenameAgent, true, func(ctx context.Context) error {
		return ops.RenameAgent(ctx, req.AgentID, req.Name)
	})
}

// ChangeVoice starts the voice change flow.
func ChangeVoice(c middleware.Context) {
	if !requireSession(c) {
		return
	}
	var req validation.ChangeVoiceRequest
	if !bindAndValidate(c, &req) {
		return
	}
	runOperation(c, arcade.ActionChangeVoice, true, func(ctx context.Context) error {
		return ops.ChangeVoice(ctx, req.AgentID, req.VoiceID)
	})
}

// DeleteSlot starts the slot removal flow.
func DeleteSlot(c middleware.Context) {
	if !requireSession(c) {
		return
	}
	var req validation.DeleteSlotRequest
	if !bindAndValidate(c, &req) {
		return
	}
	runOperation(c, arcade.ActionDeleteSlot, true, func(ctx context.Context) error {
		return ops.DeleteSlot(ctx, req.AgentID, req.SlotIndex)
	})
}

// Withdraw starts the payout flow. No token approval; over-limit amounts end
// in the manual-review status.
func Withdraw(c middleware.Context) {
	if !requireSession(c) {
		return
	}
	var req validation.WithdrawRequest
	if !bindAndValidate(c, &req) {
		return
	}
	runOperation(c, "withdraw", false, func(ctx context.Context) error {
		return ops.Withdraw(ctx, req.Amount)
	})
}

// GetOperationStatus returns one engine's snapshot.
func GetOperationStatus(c middleware.Context) {
	operation := c.Param("operation")
	eng, ok := ops.Engines()[operation]
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Unknown operation"})
		return
	}
	c.JSON(http.StatusOK, OperationStatusResponse{
		Status: eng.Status(),
		Result: resultName(eng.Result().Kind),
	})
}

// ListOperations snapshots every engine created so far.
func ListOperations(c middleware.Context) {
	statuses := make(map[string]txflow.Status)
	for name, eng := range ops.Engines() {
		statuses[name] = eng.Status()
	}
	c.JSON(http.StatusOK, OperationListResponse{Operations: statuses})
}

// ConsumeOperationResult consumes the one-shot success latch. The first call
// after success returns the receipt; repeats return consumed=false.
func ConsumeOperationResult(c middleware.Context) {
	operation := c.Param("operation")
	eng, ok := ops.Engines()[operation]
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Unknown operation"})
		return
	}
	receipt, consumed := eng.Consume()
	resp := ConsumeResponse{Consumed: consumed}
	if consumed {
		resp.TxHash = receipt.TransactionHash
		resp.Block = receipt.BlockNumber
	}
	c.JSON(http.StatusOK, resp)
}

// ResetOperation rearms an engine for another attempt.
func ResetOperation(c middleware.Context) {
	operation := c.Param("operation")
	eng, ok := ops.Engines()[operation]
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Unknown operation"})
		return
	}
	eng.Reset()
	c.JSON(http.StatusOK, OperationStatusResponse{
		Status: eng.Status(),
		Result: resultName(eng.Result().Kind),
	})
}

func bindAndValidate(c middleware.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return false
	}
	if err := validate.Validate(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return false
	}
	return true
}

func resultName(kind txflow.ResultKind) string {
	switch kind {
	case txflow.ResultSucceeded:
		return "succeeded"
	case txflow.ResultConsumed:
		return "consumed"
	default:
		return "idle"
	}
}
