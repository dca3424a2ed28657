package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Keccak256 computes a Keccak-256 hash over the concatenated inputs.
func Keccak256(data ...[]byte) []byte {
	hasher := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hasher.Write(d)
	}
	return hasher.Sum(nil)
}

// MethodID returns the 4-byte selector for an ABI function signature.
func MethodID(signature string) []byte {
	return Keccak256([]byte(signature))[0:4]
}

// PadAddress ABI-encodes an address into a 32-byte word.
func PadAddress(addr string) []byte {
	addrBytes, _ := hex.DecodeString(strings.TrimPrefix(addr, "0x"))
	padded := make([]byte, 32)
	copy(padded[12:], addrBytes)
	return padded
}

// PadUint256 ABI-encodes a big integer into a 32-byte word.
func PadUint256(v *big.Int) []byte {
	padded := make([]byte, 32)
	v.FillBytes(padded)
	return padded
}

// PadUint8 ABI-encodes a uint8 into a 32-byte word.
func PadUint8(v uint8) []byte {
	padded := make([]byte, 32)
	padded[31] = v
	return padded
}

// PadBytes32 ABI-encodes a hex-encoded bytes32 value (e.g. a nonce).
func PadBytes32(value string) []byte {
	b, _ := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	padded := make([]byte, 32)
	copy(padded, b)
	return padded
}

// PadBytesRight left-aligns raw bytes in a 32-byte word.
func PadBytesRight(b []byte) []byte {
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// ParseUint256 parses a decimal string into a big integer.
func ParseUint256(s string) (*big.Int, error) {
	v := new(big.Int)
	if _, ok := v.SetString(s, 10); !ok {
		return nil, fmt.Errorf("invalid uint256: %s", s)
	}
	return v, nil
}

// Allowance queries an ERC-20 allowance(owner, spender).
func (c *Client) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	callData := MethodID("allowance(address,address)")
	callData = append(callData, PadAddress(owner)...)
	callData = append(callData, PadAddress(spender)...)

	result, err := c.Call(ctx, token, callData)
	if err != nil {
		return nil, fmt.Errorf("allowance query failed: %w", err)
	}

	allowance := new(big.Int)
	allowance.SetString(strings.TrimPrefix(result, "0x"), 16)
	return allowance, nil
}

// BalanceOf queries an ERC-20 balanceOf(owner).
func (c *Client) BalanceOf(ctx context.Context, token, owner string) (*big.Int, error) {
	callData := append(MethodID("balanceOf(address)"), PadAddress(owner)...)

	result, err := c.Call(ctx, token, callData)
	if err != nil {
		return nil, fmt.Errorf("balance query failed: %w", err)
	}

	balance := new(big.Int)
	balance.SetString(strings.TrimPrefix(result, "0x"), 16)
	return balance, nil
}

// ApproveCalldata builds approve(spender, amount) calldata.
func ApproveCalldata(spender string, amount *big.Int) []byte {
	callData := MethodID("approve(address,uint256)")
	callData = append(callData, PadAddress(spender)...)
	callData = append(callData, PadUint256(amount)...)
	return callData
}
