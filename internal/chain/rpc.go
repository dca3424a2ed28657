// Package chain talks to an EVM network over raw JSON-RPC: contract reads,
// signed transaction submission, and receipt confirmation.
package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"floaagent/pkg/logging"
)

var (
	// ErrReverted indicates the transaction landed but reverted on-chain.
	ErrReverted = errors.New("chain: transaction reverted")
	// ErrReceiptNotFound indicates the transaction is not yet mined.
	ErrReceiptNotFound = errors.New("chain: receipt not found")
)

// Receipt represents an Ethereum transaction receipt
type Receipt struct {
	TransactionHash string `json:"transactionHash"`
	Status          string `json:"status"`      // "0x1" for success, "0x0" for revert
	BlockNumber     string `json:"blockNumber"` // hex
	GasUsed         string `json:"gasUsed"`     // hex
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r.Status == "0x1"
}

// BlockNum returns the receipt's block number as an integer.
func (r *Receipt) BlockNum() int64 {
	n := new(big.Int)
	n.SetString(strings.TrimPrefix(r.BlockNumber, "0x"), 16)
	return n.Int64()
}

// Client is a JSON-RPC client bound to one network.
type Client struct {
	network      NetworkConfig
	endpoint     string
	httpClient   *http.Client
	logger       logging.Logger
	pollInterval time.Duration
}

// NewClient creates a chain client for the given network.
func NewClient(network NetworkConfig, logger logging.Logger) *Client {
	return &Client{
		network:      network,
		endpoint:     network.GetRPCEndpointWithDefault(),
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		logger:       logger,
		pollInterval: 3 * time.Second,
	}
}

// Network returns the network this client is bound to.
func (c *Client) Network() NetworkConfig {
	return c.network
}

// rpcCall performs one JSON-RPC round trip against the network endpoint.
func (c *Client) rpcCall(ctx context.Context, method string, params interface{}, result interface{}) error {
	if c.endpoint == "" {
		return fmt.Errorf("no RPC endpoint configured for network %s", c.network.Name)
	}

	reqBody := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, strings.NewReader(string(reqJSON)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var rpcResp struct {
		Result interface{}      `json:"result"`
		Error  *json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return err
	}

	if rpcResp.Error != nil {
		return fmt.Errorf("RPC error: %s", string(*rpcResp.Error))
	}

	// Marshal and unmarshal to get result in correct type
	resultJSON, err := json.Marshal(rpcResp.Result)
	if err != nil {
		return err
	}
	return json.Unmarshal(resultJSON, result)
}

// Ping verifies the RPC endpoint answers. Used by the health checker.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (int64, error) {
	var result string
	if err := c.rpcCall(ctx, "eth_blockNumber", []interface{}{}, &result); err != nil {
		return 0, err
	}
	n := new(big.Int)
	if _, ok := n.SetString(strings.TrimPrefix(result, "0x"), 16); !ok {
		return 0, fmt.Errorf("invalid block number %q", result)
	}
	return n.Int64(), nil
}

// GasPrice returns the current gas price.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var result string
	if err := c.rpcCall(ctx, "eth_gasPrice", []interface{}{}, &result); err != nil {
		return nil, err
	}
	gasPrice, ok := new(big.Int).SetString(strings.TrimPrefix(result, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("invalid gas price %q", result)
	}
	return gasPrice, nil
}

// TransactionCount returns the pending nonce for an address.
func (c *Client) TransactionCount(ctx context.Context, address string) (uint64, error) {
	var result string
	if err := c.rpcCall(ctx, "eth_getTransactionCount", []interface{}{address, "pending"}, &result); err != nil {
		return 0, err
	}
	nonce, ok := new(big.Int).SetString(strings.TrimPrefix(result, "0x"), 16)
	if !ok {
		return 0, fmt.Errorf("invalid nonce %q", result)
	}
	return nonce.Uint64(), nil
}

// Call performs a read-only eth_call against a contract.
func (c *Client) Call(ctx context.Context, to string, data []byte) (string, error) {
	var result string
	err := c.rpcCall(ctx, "eth_call", []interface{}{
		map[string]string{
			"to":   to,
			"data": "0x" + hex.EncodeToString(data),
		},
		"latest",
	}, &result)
	if err != nil {
		return "", err
	}
	return result, nil
}

// SendRawTransaction submits a signed RLP-encoded transaction.
func (c *Client) SendRawTransaction(ctx context.Context, signedTx []byte) (string, error) {
	var txHash string
	err := c.rpcCall(ctx, "eth_sendRawTransaction", []interface{}{"0x" + hex.EncodeToString(signedTx)}, &txHash)
	if err != nil {
		return "", fmt.Errorf("eth_sendRawTransaction failed: %w", err)
	}
	return txHash, nil
}

// TransactionReceipt fetches the receipt for a transaction hash.
// Returns ErrReceiptNotFound while the transaction is unmined.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var receipt *Receipt
	if err := c.rpcCall(ctx, "eth_getTransactionReceipt", []interface{}{txHash}, &receipt); err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, ErrReceiptNotFound
	}
	return receipt, nil
}

// WaitForReceipt polls until the transaction is mined with the network's
// required confirmation depth, the timeout elapses, or ctx is cancelled.
// A mined-but-reverted transaction returns the receipt and ErrReverted.
func (c *Client) WaitForReceipt(ctx context.Context, txHash string, timeout time.Duration) (*Receipt, error) {
	deadline := time.Now().Add(timeout)

	for {
		receipt, err := c.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if !receipt.Succeeded() {
				return receipt, ErrReverted
			}
			confirmed, cerr := c.isConfirmed(ctx, receipt)
			if cerr != nil {
				c.logger.WithError(cerr).WithField("tx_hash", txHash).Warn("Confirmation depth check failed")
			} else if confirmed {
				return receipt, nil
			}
		case errors.Is(err, ErrReceiptNotFound):
			// Still unmined, keep waiting
		default:
			c.logger.WithError(err).WithFields(logging.Fields{
				"tx_hash": txHash,
				"network": c.network.Name,
			}).Warn("Failed to get transaction receipt")
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("chain: no confirmed receipt for %s after %s", txHash, timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *Client) isConfirmed(ctx context.Context, receipt *Receipt) (bool, error) {
	if c.network.Confirmations <= 1 {
		return true, nil
	}
	head, err := c.BlockNumber(ctx)
	if err != nil {
		return false, err
	}
	return head-receipt.BlockNum()+1 >= int64(c.network.Confirmations), nil
}
