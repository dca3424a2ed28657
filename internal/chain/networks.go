package chain

import (
	"os"
)

// NetworkConfig holds configuration for a blockchain network
type NetworkConfig struct {
	ChainID        int64
	Name           string // "base", "bnb", etc.
	DisplayName    string
	RPCEndpointEnv string // Environment variable name for RPC endpoint
	Confirmations  int    // Required confirmations before a tx counts as final
	IsTestnet      bool
}

// GetRPCEndpoint returns the RPC endpoint from environment
func (n NetworkConfig) GetRPCEndpoint() string {
	return os.Getenv(n.RPCEndpointEnv)
}

// Networks is the registry of all supported networks
var Networks = map[string]NetworkConfig{
	"base": {
		ChainID:        8453,
		Name:           "base",
		DisplayName:    "Base",
		RPCEndpointEnv: "BASE_RPC_ENDPOINT",
		Confirmations:  3,
		IsTestnet:      false,
	},
	"bnb": {
		ChainID:        56,
		Name:           "bnb",
		DisplayName:    "BNB Smart Chain",
		RPCEndpointEnv: "BNB_RPC_ENDPOINT",
		Confirmations:  5,
		IsTestnet:      false,
	},
	"base-sepolia": {
		ChainID:        84532,
		Name:           "base-sepolia",
		DisplayName:    "Base Sepolia",
		RPCEndpointEnv: "BASE_SEPOLIA_RPC_ENDPOINT",
		Confirmations:  2,
		IsTestnet:      true,
	},
	"bnb-testnet": {
		ChainID:        97,
		Name:           "bnb-testnet",
		DisplayName:    "BNB Testnet",
		RPCEndpointEnv: "BNB_TESTNET_RPC_ENDPOINT",
		Confirmations:  2,
		IsTestnet:      true,
	},
}

// NetworkByChainID returns the network config for a given chain ID
func NetworkByChainID(chainID int64) (NetworkConfig, bool) {
	for _, n := range Networks {
		if n.ChainID == chainID {
			return n, true
		}
	}
	return NetworkConfig{}, false
}

// DefaultNetwork returns the network the conductor operates on (Base mainnet)
func DefaultNetwork() NetworkConfig {
	return Networks["base"]
}

// DefaultRPCEndpoints returns sensible defaults for public RPC endpoints
var DefaultRPCEndpoints = map[string]string{
	"BASE_RPC_ENDPOINT":         "https://base.publicnode.com",
	"BNB_RPC_ENDPOINT":          "https://bsc.publicnode.com",
	"BASE_SEPOLIA_RPC_ENDPOINT": "https://base-sepolia.publicnode.com",
	"BNB_TESTNET_RPC_ENDPOINT":  "https://bsc-testnet.publicnode.com",
}

// GetRPCEndpointWithDefault returns the RPC endpoint, falling back to default
func (n NetworkConfig) GetRPCEndpointWithDefault() string {
	if endpoint := os.Getenv(n.RPCEndpointEnv); endpoint != "" {
		return endpoint
	}
	return DefaultRPCEndpoints[n.RPCEndpointEnv]
}
