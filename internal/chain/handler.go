// Package chain defines the per-destination-chain handler contract and the
// control logic shared by every handler implementation.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
)

var (
	ErrInvalidConfig   = errors.New("chain: invalid config")
	ErrUnknownChain    = errors.New("chain: unknown chain type")
	ErrNotInitialized  = errors.New("chain: handler not initialized")
	ErrDepositNotFound = errors.New("chain: deposit not found on chain")
)

// Type enumerates the supported destination chain kinds.
type Type string

const (
	TypeEVM      Type = "EVM"
	TypeStarknet Type = "STARKNET"
	TypeSui      Type = "SUI"
	TypeSolana   Type = "SOLANA"
)

func ParseType(s string) (Type, error) {
	switch Type(strings.ToUpper(strings.TrimSpace(s))) {
	case TypeEVM:
		return TypeEVM, nil
	case TypeStarknet:
		return TypeStarknet, nil
	case TypeSui:
		return TypeSui, nil
	case TypeSolana:
		return TypeSolana, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChain, s)
	}
}

// Config describes one destination chain. L2 fields may be absent for
// handlers that consume an off-chain endpoint instead of subscribing to the
// chain directly.
type Config struct {
	ChainName string
	ChainType Type

	L1RPC             string
	L2RPC             string
	L1ContractAddress string
	L2ContractAddress string
	VaultAddress      string

	PrivateKey  string
	UseEndpoint bool

	// L2StartBlock bounds the historical backfill binary search.
	L2StartBlock uint64
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ChainName) == "" {
		return fmt.Errorf("%w: chainName is required", ErrInvalidConfig)
	}
	if _, err := ParseType(string(c.ChainType)); err != nil {
		return err
	}
	if strings.TrimSpace(c.L1RPC) == "" {
		return fmt.Errorf("%w: l1Rpc is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.L1ContractAddress) == "" {
		return fmt.Errorf("%w: l1ContractAddress is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.VaultAddress) == "" {
		return fmt.Errorf("%w: vaultAddress is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.PrivateKey) == "" {
		return fmt.Errorf("%w: privateKey is required", ErrInvalidConfig)
	}
	if !c.UseEndpoint && strings.TrimSpace(c.L2RPC) == "" {
		return fmt.Errorf("%w: l2Rpc is required unless useEndpoint is set", ErrInvalidConfig)
	}
	return nil
}

// PastDepositsOptions bounds a historical deposit scan.
type PastDepositsOptions struct {
	PastMinutes int
	LatestBlock uint64
}

// Handler adapts one destination chain to the relayer's uniform verb set.
//
// Implementations must be safe for concurrent use: reconciler loops and event
// callbacks may overlap, and per-deposit serialization is the handler's
// responsibility.
type Handler interface {
	// Initialize constructs RPC clients, signers and contract bindings.
	// It is idempotent.
	Initialize(ctx context.Context) error

	// SetupListeners registers event subscriptions. Callbacks run until ctx
	// is canceled.
	SetupListeners(ctx context.Context) error

	InitializeDeposit(ctx context.Context, d deposit.Deposit) error
	FinalizeDeposit(ctx context.Context, d deposit.Deposit) error

	// CheckDepositStatus reads the deposit's status from the L1 contract.
	// The boolean reports whether the contract knows the deposit at all.
	CheckDepositStatus(ctx context.Context, id string) (deposit.Status, bool, error)

	// LatestBlock returns the chain's newest block, checkpoint sequence or
	// slot. Endpoint-backed handlers return 0.
	LatestBlock(ctx context.Context) (uint64, error)

	ProcessInitializeDeposits(ctx context.Context) error
	ProcessFinalizeDeposits(ctx context.Context) error

	// CheckForPastDeposits backfills deposit intents the subscription may
	// have missed. Errors are logged by callers, never fatal.
	CheckForPastDeposits(ctx context.Context, opts PastDepositsOptions) error

	// SupportsPastDepositCheck is true iff the handler observes L2 events
	// directly rather than through an off-chain endpoint.
	SupportsPastDepositCheck() bool

	ChainName() string
}
