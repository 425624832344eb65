package l1

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/eth"
)

// DialConfig carries everything needed to stand up the L1 side of a handler.
type DialConfig struct {
	RPC              string
	PrivateKey       string
	DepositorAddress string
	VaultAddress     string

	Now func() time.Time
}

// Dial connects to the L1 provider, derives the signing wallet and binds the
// ceremony contracts. All destination-chain handlers start here.
func Dial(ctx context.Context, cfg DialConfig, log *slog.Logger) (*Client, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPC)
	if err != nil {
		return nil, fmt.Errorf("l1: dial: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("l1: chain id: %w", err)
	}

	key, err := eth.ParsePrivateKeyHex(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	sender, err := eth.NewSender(client, eth.NewLocalSigner(key), eth.SenderConfig{
		ChainID: chainID,
		Now:     cfg.Now,
	})
	if err != nil {
		return nil, err
	}

	return NewClient(
		sender,
		client,
		common.HexToAddress(cfg.DepositorAddress),
		common.HexToAddress(cfg.VaultAddress),
		log,
	)
}

// WatchMintingFinalizedLoop keeps the vault subscription alive, redialing
// after drops, until ctx is canceled.
func WatchMintingFinalizedLoop(ctx context.Context, c *Client, retry time.Duration, log *slog.Logger, sink func(MintingFinalized)) {
	if retry <= 0 {
		retry = 5 * time.Second
	}
	for ctx.Err() == nil {
		err := c.WatchMintingFinalized(ctx, sink)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error("OptimisticMintingFinalized subscription dropped", "err", err)
		}

		t := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}
