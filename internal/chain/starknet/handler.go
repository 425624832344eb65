// Package starknet adapts Starknet destinations. Starknet deposit intents
// reach the relayer through the off-chain gateway feed; the handler is the
// endpoint-mode core with Starknet wiring.
package starknet

import (
	"fmt"
	"log/slog"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain/endpoint"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/queue"
)

// DefaultIntentTopic is the queue topic the Starknet gateway publishes to.
const DefaultIntentTopic = "starknet.deposit-intents.v1"

func NewHandler(cfg chain.Config, store deposit.Store, consumer queue.Consumer, log *slog.Logger) (chain.Handler, error) {
	if cfg.ChainType != chain.TypeStarknet {
		return nil, fmt.Errorf("%w: starknet handler got %q", chain.ErrInvalidConfig, cfg.ChainType)
	}
	if !cfg.UseEndpoint {
		return nil, fmt.Errorf("%w: starknet deposits are relayed via the gateway feed", chain.ErrInvalidConfig)
	}
	return endpoint.NewHandler(cfg, store, consumer, log)
}
