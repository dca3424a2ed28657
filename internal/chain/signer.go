package chain

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"floaagent/pkg/auth"
)

// DefaultGasLimit is a conservative estimate for the catalog contract calls.
const DefaultGasLimit = uint64(300000)

// TxSigner signs raw transactions for submission.
type TxSigner interface {
	Address() string
	SignTx(nonce uint64, to string, value *big.Int, gasLimit uint64, gasPrice *big.Int, data []byte, chainID *big.Int) ([]byte, error)
}

// LocalKeySigner signs login challenges and transactions with a private key
// held by the daemon. Used when no external wallet provider answers signing
// challenges.
type LocalKeySigner struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewLocalKeySigner parses a hex private key (with or without 0x prefix).
func NewLocalKeySigner(privKeyHex string) (*LocalKeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &LocalKeySigner{
		key:     key,
		address: strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
	}, nil
}

// Address returns the lowercased address derived from the key.
func (s *LocalKeySigner) Address() string {
	return s.address
}

// SignMessage signs a message with the EIP-191 personal_sign scheme and
// returns a 65-byte hex signature with v in {27, 28}.
func (s *LocalKeySigner) SignMessage(message string) (string, error) {
	sig, err := crypto.Sign(auth.HashPersonalMessage(message), s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// SignTx builds and signs a legacy transaction with EIP-155 replay protection.
func (s *LocalKeySigner) SignTx(nonce uint64, to string, value *big.Int, gasLimit uint64, gasPrice *big.Int, data []byte, chainID *big.Int) ([]byte, error) {
	toAddr := common.HexToAddress(to)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &toAddr,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signer := types.NewEIP155Signer(chainID)
	signedTx, err := types.SignTx(tx, signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	return signedTx.MarshalBinary()
}
