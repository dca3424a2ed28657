package chain

import (
	"context"
	"fmt"
	"math/big"

	"floaagent/pkg/logging"
)

// SubmitTransaction signs and submits a contract call, simulating it first so
// a doomed transaction never burns gas. Returns the transaction hash.
func (c *Client) SubmitTransaction(ctx context.Context, signer TxSigner, to string, value *big.Int, data []byte) (string, error) {
	if value == nil {
		value = big.NewInt(0)
	}

	nonce, err := c.TransactionCount(ctx, signer.Address())
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := c.GasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	// Simulate via eth_call before submitting
	if value.Sign() == 0 {
		if _, err := c.Call(ctx, to, data); err != nil {
			return "", fmt.Errorf("simulation failed: %w", err)
		}
	}

	signedTx, err := signer.SignTx(nonce, to, value, DefaultGasLimit, gasPrice, data, big.NewInt(c.network.ChainID))
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	txHash, err := c.SendRawTransaction(ctx, signedTx)
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"tx_hash": txHash,
		"to":      to,
		"network": c.network.Name,
	}).Info("Transaction submitted")

	return txHash, nil
}
