package evm

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// HeaderFetcher reads block headers by number.
type HeaderFetcher interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// BlockRange is an inclusive block interval. It may over-cover the requested
// window; consumers treat it as a bound, not a sieve.
type BlockRange struct {
	StartBlock uint64
	EndBlock   uint64
}

// blockRangeSince binary-searches [startBlock, latestBlock] for the highest
// block whose timestamp is at or before target and returns the range from
// there to latestBlock. When no block qualifies the range falls back to
// startBlock.
func blockRangeSince(ctx context.Context, fetcher HeaderFetcher, startBlock, latestBlock uint64, target time.Time) (BlockRange, error) {
	want := uint64(target.Unix())
	low, high := startBlock, latestBlock

	candidate := startBlock
	found := false

	for low <= high {
		mid := low + (high-low)/2

		header, err := fetcher.HeaderByNumber(ctx, new(big.Int).SetUint64(mid))
		if err != nil {
			if !errors.Is(err, ethereum.NotFound) {
				return BlockRange{}, err
			}
			header = nil
		}
		if header == nil {
			// Past the provider's head; narrow down.
			if mid == 0 {
				break
			}
			high = mid - 1
			continue
		}

		switch {
		case header.Time == want:
			return BlockRange{StartBlock: mid, EndBlock: latestBlock}, nil
		case header.Time < want:
			candidate = mid
			found = true
			low = mid + 1
		default:
			if mid == 0 {
				return BlockRange{StartBlock: startBlock, EndBlock: latestBlock}, nil
			}
			high = mid - 1
		}
	}

	if !found {
		candidate = startBlock
	}
	return BlockRange{StartBlock: candidate, EndBlock: latestBlock}, nil
}
