package txflow

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"floaagent/internal/chain"
	"floaagent/pkg/api/arcade"
	"floaagent/pkg/logging"
)

// SignBackend is the slice of the arcade client that issues authorizations.
type SignBackend interface {
	InteractionSign(ctx context.Context, accessToken string, req *arcade.InteractionSignRequest) (*arcade.SignData, error)
	AvatarManagementSign(ctx context.Context, accessToken string, req *arcade.AvatarManagementSignRequest) (*arcade.SignData, error)
	WithdrawalSign(ctx context.Context, accessToken string, req *arcade.WithdrawalSignRequest) (*arcade.WithdrawalSignData, error)
}

// TokenProvider supplies the session access token per call.
type TokenProvider interface {
	AccessToken() string
}

// Contracts holds the on-chain addresses the operations target.
type Contracts struct {
	Arcade       string // catalog contract, also the token spender
	PaymentToken string // ERC-20 paid actions are denominated in
}

// Avatar management action ids understood by the catalog contract.
const (
	avatarActionRename     = 1
	avatarActionVoice      = 2
	avatarActionDeleteSlot = 3
)

// Service exposes the paid feature operations. Each operation keeps its own
// engine so independent features never share transaction state.
type Service struct {
	backend   SignBackend
	tokens    TokenProvider
	chain     ChainClient
	signer    chain.TxSigner
	logger    logging.Logger
	contracts Contracts

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewService creates the feature operation service.
func NewService(backend SignBackend, tokens TokenProvider, chainClient ChainClient, signer chain.TxSigner, contracts Contracts, logger logging.Logger) *Service {
	return &Service{
		backend:   backend,
		tokens:    tokens,
		chain:     chainClient,
		signer:    signer,
		logger:    logger,
		contracts: contracts,
		engines:   make(map[string]*Engine),
	}
}

// Engine returns the per-operation engine, creating it on first use.
func (s *Service) Engine(operation string, requiresApproval bool) *Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if eng, ok := s.engines[operation]; ok {
		return eng
	}
	eng := NewEngine(Capability{
		OperationName:    operation,
		RequiresApproval: requiresApproval,
		Spender:          s.contracts.Arcade,
		Token:            s.contracts.PaymentToken,
	}, s.chain, s.signer, s.logger)
	s.engines[operation] = eng
	return eng
}

// Engines returns all engines created so far, keyed by operation name.
func (s *Service) Engines() map[string]*Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Engine, len(s.engines))
	for k, v := range s.engines {
		out[k] = v
	}
	return out
}

// CreateAgent mints a new agent. Token-paid, approval-gated.
func (s *Service) CreateAgent(ctx context.Context, prompt string) error {
	eng := s.Engine(arcade.ActionCreateAgent, true)
	return eng.Execute(ctx, func(ctx context.Context) (*CallSpec, *big.Int, error) {
		auth, err := s.backend.InteractionSign(ctx, s.tokens.AccessToken(), &arcade.InteractionSignRequest{
			Action: arcade.ActionCreateAgent,
			Prompt: prompt,
		})
		if err != nil {
			return nil, nil, err
		}
		return s.buildCall("createAgent(uint256,bytes32,uint256,uint8,bytes32,bytes32)", auth, nil)
	})
}

// UpgradeAgent raises an agent's level.
func (s *Service) UpgradeAgent(ctx context.Context, agentID string, level int) error {
	eng := s.Engine(arcade.ActionUpgradeAgent, true)
	return eng.Execute(ctx, func(ctx context.Context) (*CallSpec, *big.Int, error) {
		auth, err := s.backend.InteractionSign(ctx, s.tokens.AccessToken(), &arcade.InteractionSignRequest{
			Action:  arcade.ActionUpgradeAgent,
			AgentID: agentID,
			Level:   level,
		})
		if err != nil {
			return nil, nil, err
		}
		id, err := chain.ParseUint256(agentID)
		if err != nil {
			return nil, nil, fmt.Errorf("bad agent id: %w", err)
		}
		return s.buildCall("upgradeAgent(uint256,uint256,bytes32,uint256,uint8,bytes32,bytes32)", auth,
			[][]byte{chain.PadUint256(id)})
	})
}

// BuyTicket purchases interaction tickets.
func (s *Service) BuyTicket(ctx context.Context, quantity int) error {
	eng := s.Engine(arcade.ActionBuyTicket, true)
	return eng.Execute(ctx, func(ctx context.Context) (*CallSpec, *big.Int, error) {
		auth, err := s.backend.InteractionSign(ctx, s.tokens.AccessToken(), &arcade.InteractionSignRequest{
			Action:   arcade.ActionBuyTicket,
			Quantity: quantity,
		})
		if err != nil {
			return nil, nil, err
		}
		return s.buildCall("buyTickets(uint256,uint256,bytes32,uint256,uint8,bytes32,bytes32)", auth,
			[][]byte{chain.PadUint256(big.NewInt(int64(quantity)))})
	})
}

// AddSlot buys an extra media slot for an agent.
func (s *Service) AddSlot(ctx context.Context, agentID string) error {
	eng := s.Engine(arcade.ActionAddSlot, true)
	return eng.Execute(ctx, func(ctx context.Context) (*CallSpec, *big.Int, error) {
		auth, err := s.backend.InteractionSign(ctx, s.tokens.AccessToken(), &arcade.InteractionSignRequest{
			Action:  arcade.ActionAddSlot,
			AgentID: agentID,
		})
		if err != nil {
			return nil, nil, err
		}
		id, err := chain.ParseUint256(agentID)
		if err != nil {
			return nil, nil, fmt.Errorf("bad agent id: %w", err)
		}
		return s.buildCall("addSlot(uint256,uint256,bytes32,uint256,uint8,bytes32,bytes32)", auth,
			[][]byte{chain.PadUint256(id)})
	})
}

// GenerateVideo pays for a video generation and returns the backend record id
// the caller polls for completion.
func (s *Service) GenerateVideo(ctx context.Context, agentID, prompt string) (string, error) {
	eng := s.Engine(arcade.ActionGenerateVideo, true)
	var recordID string
	err := eng.Execute(ctx, func(ctx context.Context) (*CallSpec, *big.Int, error) {
		auth, err := s.backend.InteractionSign(ctx, s.tokens.AccessToken(), &arcade.InteractionSignRequest{
			Action:  arcade.ActionGenerateVideo,
			AgentID: agentID,
			Prompt:  prompt,
		})
		if err != nil {
			return nil, nil, err
		}
		recordID = auth.OrderID
		id, err := chain.ParseUint256(agentID)
		if err != nil {
			return nil, nil, fmt.Errorf("bad agent id: %w", err)
		}
		return s.buildCall("generate(uint256,uint256,bytes32,uint256,uint8,bytes32,bytes32)", auth,
			[][]byte{chain.PadUint256(id)})
	})
	if err != nil {
		return "", err
	}
	return recordID, nil
}

// RenameAgent changes an agent's display name.
func (s *Service) RenameAgent(ctx context.Context, agentID, name string) error {
	return s.manageAvatar(ctx, arcade.ActionRenameAgent, avatarActionRename, &arcade.AvatarManagementSignRequest{
		Action:  arcade.ActionRenameAgent,
		AgentID: agentID,
		Name:    name,
	})
}

// ChangeVoice switches an agent's voice model.
func (s *Service) ChangeVoice(ctx context.Context, agentID, voiceID string) error {
	return s.manageAvatar(ctx, arcade.ActionChangeVoice, avatarActionVoice, &arcade.AvatarManagementSignRequest{
		Action:  arcade.ActionChangeVoice,
		AgentID: agentID,
		VoiceID: voiceID,
	})
}

// DeleteSlot removes a media slot from an agent.
func (s *Service) DeleteSlot(ctx context.Context, agentID string, slotIndex int) error {
	return s.manageAvatar(ctx, arcade.ActionDeleteSlot, avatarActionDeleteSlot, &arcade.AvatarManagementSignRequest{
		Action:    arcade.ActionDeleteSlot,
		AgentID:   agentID,
		SlotIndex: slotIndex,
	})
}

func (s *Service) manageAvatar(ctx context.Context, operation string, actionID int64, req *arcade.AvatarManagementSignRequest) error {
	eng := s.Engine(operation, true)
	return eng.Execute(ctx, func(ctx context.Context) (*CallSpec, *big.Int, error) {
		auth, err := s.backend.AvatarManagementSign(ctx, s.tokens.AccessToken(), req)
		if err != nil {
			return nil, nil, err
		}
		id, err := chain.ParseUint256(req.AgentID)
		if err != nil {
			return nil, nil, fmt.Errorf("bad agent id: %w", err)
		}
		return s.buildCall("manageAvatar(uint256,uint256,uint256,bytes32,uint256,uint8,bytes32,bytes32)", auth,
			[][]byte{chain.PadUint256(id), chain.PadUint256(big.NewInt(actionID))})
	})
}

// Withdraw pays out earned balance. No approval: the contract sends tokens to
// the caller. Over-limit amounts come back flagged for manual review, which
// ends the attempt without a transaction.
func (s *Service) Withdraw(ctx context.Context, amount string) error {
	eng := s.Engine("withdraw", false)
	return eng.Execute(ctx, func(ctx context.Context) (*CallSpec, *big.Int, error) {
		auth, err := s.backend.WithdrawalSign(ctx, s.tokens.AccessToken(), &arcade.WithdrawalSignRequest{Amount: amount})
		if err != nil {
			return nil, nil, err
		}
		if auth.ManualReview {
			return nil, nil, ErrManualReview
		}
		return s.buildCall("withdraw(uint256,bytes32,uint256,uint8,bytes32,bytes32)", &auth.SignData, nil)
	})
}

// buildCall packs the contract calldata: leading operation args, then the
// backend authorization (amount, nonce, expiry, v, r, s).
func (s *Service) buildCall(method string, auth *arcade.SignData, leading [][]byte) (*CallSpec, *big.Int, error) {
	amount, err := chain.ParseUint256(auth.Amount)
	if err != nil {
		return nil, nil, fmt.Errorf("bad authorized amount: %w", err)
	}
	v, r, sigS, err := splitSignature(auth.Signature)
	if err != nil {
		return nil, nil, err
	}

	data := chain.MethodID(method)
	for _, word := range leading {
		data = append(data, word...)
	}
	data = append(data, chain.PadUint256(amount)...)
	data = append(data, chain.PadBytes32(auth.Nonce)...)
	data = append(data, chain.PadUint256(big.NewInt(auth.Expiry))...)
	data = append(data, chain.PadUint8(v)...)
	data = append(data, chain.PadBytesRight(r)...)
	data = append(data, chain.PadBytesRight(sigS)...)

	return &CallSpec{Contract: s.contracts.Arcade, Data: data}, amount, nil
}

// splitSignature parses a 65-byte hex signature into v, r, s with v in
// {27, 28} as the contract expects.
func splitSignature(signature string) (uint8, []byte, []byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("invalid authorization signature: %w", err)
	}
	if len(sig) != 65 {
		return 0, nil, nil, fmt.Errorf("authorization signature must be 65 bytes, got %d", len(sig))
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}
	return v, sig[0:32], sig[32:64], nil
}
