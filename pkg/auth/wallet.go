package auth

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// ChainNamespace identifies the wallet address scheme used for login.
// The catalog backend currently only issues sessions for EVM wallets.
type ChainNamespace string

const (
	NamespaceEVM ChainNamespace = "evm"
)

// LoginMessage is the canonical challenge a wallet signs to authenticate.
// The timestamp comes from the backend (anti-replay); the address binds the
// signature to one account.
type LoginMessage struct {
	Address   string
	Timestamp int64 // backend-issued, unix milliseconds
}

// BuildLoginMessage renders the canonical challenge string. The format is
// fixed; the backend reconstructs it verbatim to verify the signature.
func BuildLoginMessage(address string, timestamp int64) string {
	return fmt.Sprintf("FloaAgent Login\nAddress: %s\nTimestamp: %d", strings.ToLower(address), timestamp)
}

// ParseLoginMessage extracts address and timestamp from a challenge string.
func ParseLoginMessage(message string) (LoginMessage, error) {
	var msg LoginMessage
	lines := strings.Split(message, "\n")
	if len(lines) != 3 || lines[0] != "FloaAgent Login" {
		return msg, fmt.Errorf("malformed login message")
	}
	if _, err := fmt.Sscanf(lines[1], "Address: %s", &msg.Address); err != nil {
		return msg, fmt.Errorf("message missing address: %w", err)
	}
	if _, err := fmt.Sscanf(lines[2], "Timestamp: %d", &msg.Timestamp); err != nil {
		return msg, fmt.Errorf("message missing timestamp: %w", err)
	}
	return msg, nil
}

// ValidateLoginTimestamp checks the challenge timestamp is within the replay window.
func ValidateLoginTimestamp(timestamp int64, window time.Duration) error {
	issued := time.UnixMilli(timestamp)
	age := time.Since(issued)
	if age < -1*time.Minute {
		return fmt.Errorf("login timestamp is in the future")
	}
	if age > window {
		return fmt.Errorf("login timestamp expired (older than %s)", window)
	}
	return nil
}

// VerifyEthSignature verifies an EIP-191 personal_sign signature against an address
func VerifyEthSignature(address, message, signature string) (bool, error) {
	sig, err := decodeHexSignature(signature)
	if err != nil {
		return false, fmt.Errorf("invalid signature format: %w", err)
	}
	if len(sig) != 65 {
		return false, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	hash := HashPersonalMessage(message)

	// Ethereum recovery id is 0 or 1, wallets emit 27/28
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return false, fmt.Errorf("invalid recovery id: %d", sig[64])
	}
	sig[64] = v

	pubKey, err := crypto.Ecrecover(hash, sig)
	if err != nil {
		return false, fmt.Errorf("failed to recover public key: %w", err)
	}
	pubKeyECDSA, err := crypto.UnmarshalPubkey(pubKey)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal pubkey: %w", err)
	}

	recovered := crypto.PubkeyToAddress(*pubKeyECDSA).Hex()
	return strings.EqualFold(recovered, address), nil
}

// HashPersonalMessage hashes a message with the EIP-191 personal_sign prefix
func HashPersonalMessage(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return keccak256([]byte(prefixed))
}

// NormalizeEthAddress lowercases and validates an Ethereum address.
// Session state stores lowercase addresses; comparisons are case-insensitive.
func NormalizeEthAddress(address string) (string, error) {
	addr := strings.TrimPrefix(strings.ToLower(address), "0x")
	if len(addr) != 40 {
		return "", fmt.Errorf("ethereum address must be 40 hex characters")
	}
	if _, err := hex.DecodeString(addr); err != nil {
		return "", fmt.Errorf("invalid hex in address: %w", err)
	}
	return "0x" + addr, nil
}

// ChecksumAddress applies EIP-55 checksum to an address for display
func ChecksumAddress(address string) string {
	addr := strings.TrimPrefix(strings.ToLower(address), "0x")
	hash := keccak256([]byte(addr))

	result := make([]byte, 42)
	result[0] = '0'
	result[1] = 'x'

	for i := 0; i < 40; i++ {
		c := addr[i]
		hashNibble := hash[i/2]
		if i%2 == 0 {
			hashNibble >>= 4
		}
		hashNibble &= 0x0f

		if hashNibble >= 8 && c >= 'a' && c <= 'f' {
			result[i+2] = c - 32 // uppercase
		} else {
			result[i+2] = c
		}
	}
	return string(result)
}

// keccak256 computes Keccak-256 hash
func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// decodeHexSignature decodes a hex-encoded signature
func decodeHexSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")
	sig = strings.TrimPrefix(sig, "0X")
	return hex.DecodeString(sig)
}
