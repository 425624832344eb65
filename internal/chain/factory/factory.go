// Package factory constructs the chain handler matching a configuration.
package factory

import (
	"fmt"
	"log/slog"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain/evm"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain/solana"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain/starknet"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain/sui"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/queue"
)

// Options carries the collaborators handlers share. Consumer is required for
// endpoint-mode chains; SolanaWsRPC for Solana log subscriptions.
type Options struct {
	Store    deposit.Store
	Log      *slog.Logger
	Consumer queue.Consumer

	SolanaWsRPC string
}

// NewHandler is exhaustive over the known chain kinds. An unknown kind is a
// configuration error, fatal at startup.
func NewHandler(cfg chain.Config, opts Options) (chain.Handler, error) {
	switch cfg.ChainType {
	case chain.TypeEVM:
		return evm.NewHandler(cfg, opts.Store, opts.Log)
	case chain.TypeStarknet:
		return starknet.NewHandler(cfg, opts.Store, opts.Consumer, opts.Log)
	case chain.TypeSui:
		return sui.NewHandler(cfg, opts.Store, opts.Consumer, opts.Log)
	case chain.TypeSolana:
		return solana.NewHandler(cfg, opts.SolanaWsRPC, opts.Store, opts.Log)
	default:
		return nil, fmt.Errorf("%w: %q", chain.ErrUnknownChain, cfg.ChainType)
	}
}
