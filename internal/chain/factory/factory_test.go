package factory

import (
	"errors"
	"testing"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
)

func evmConfig() chain.Config {
	return chain.Config{
		ChainName:         "arbitrum",
		ChainType:         chain.TypeEVM,
		L1RPC:             "http://l1",
		L2RPC:             "http://l2",
		L1ContractAddress: "0x0000000000000000000000000000000000000001",
		L2ContractAddress: "0x0000000000000000000000000000000000000002",
		VaultAddress:      "0x0000000000000000000000000000000000000003",
		PrivateKey:        "aa",
	}
}

func TestNewHandler_EVM(t *testing.T) {
	t.Parallel()

	h, err := NewHandler(evmConfig(), Options{Store: deposit.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	if h.ChainName() != "arbitrum" {
		t.Fatalf("chain name: got %q", h.ChainName())
	}
	if !h.SupportsPastDepositCheck() {
		t.Fatalf("evm handler must support past scans")
	}
}

func TestNewHandler_UnknownChainType(t *testing.T) {
	t.Parallel()

	cfg := evmConfig()
	cfg.ChainType = chain.Type("COSMOS")
	if _, err := NewHandler(cfg, Options{Store: deposit.NewMemoryStore()}); !errors.Is(err, chain.ErrUnknownChain) {
		t.Fatalf("got %v want ErrUnknownChain", err)
	}
}

func TestNewHandler_EndpointChainsRequireConsumer(t *testing.T) {
	t.Parallel()

	cfg := evmConfig()
	cfg.ChainType = chain.TypeStarknet
	cfg.UseEndpoint = true
	cfg.L2RPC = ""
	cfg.L2ContractAddress = ""
	if _, err := NewHandler(cfg, Options{Store: deposit.NewMemoryStore()}); err == nil {
		t.Fatalf("expected error without a consumer")
	}
}
