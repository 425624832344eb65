// Package l1 talks to the Ethereum side of the ceremony: the
// L1BitcoinDepositor contract and the TBTCVault. Every destination chain
// settles here, so one client serves all handlers.
package l1

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/eth"
)

var ErrInvalidClientConfig = errors.New("l1: invalid client config")

// LogBackend is the subset of an EVM client used to observe vault events.
type LogBackend interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Client binds the depositor and vault contracts to a sending wallet.
type Client struct {
	sender    *eth.Sender
	logs      LogBackend
	depositor common.Address
	vault     common.Address
	log       *slog.Logger
}

func NewClient(sender *eth.Sender, logs LogBackend, depositor, vault common.Address, log *slog.Logger) (*Client, error) {
	if err := loadABIs(); err != nil {
		return nil, err
	}
	if sender == nil || logs == nil {
		return nil, fmt.Errorf("%w: nil sender or log backend", ErrInvalidClientConfig)
	}
	if (depositor == common.Address{}) || (vault == common.Address{}) {
		return nil, fmt.Errorf("%w: zero contract address", ErrInvalidClientConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		sender:    sender,
		logs:      logs,
		depositor: depositor,
		vault:     vault,
		log:       log,
	}, nil
}

// InitializeDeposit pre-flights and submits the first ceremony call.
// A revert (simulated or mined) comes back as *chain.RevertError; the
// transaction hash is returned on success.
func (c *Client) InitializeDeposit(ctx context.Context, d deposit.Deposit) (string, error) {
	fundingTx, err := buildFundingTxArgs(d.L1OutputEvent.FundingTx)
	if err != nil {
		return "", err
	}
	reveal, err := buildRevealArgs(d.L1OutputEvent.Reveal)
	if err != nil {
		return "", err
	}
	owner, err := ownerBytes32(d.L1OutputEvent.L2DepositOwner)
	if err != nil {
		return "", err
	}

	data, err := depositorABI.Pack("initializeDeposit", fundingTx, reveal, owner)
	if err != nil {
		return "", fmt.Errorf("l1: pack initializeDeposit: %w", err)
	}

	req := eth.TxRequest{To: c.depositor, Data: data}
	if _, err := c.sender.Call(ctx, req); err != nil {
		return "", &chain.RevertError{Reason: revertReason(err)}
	}

	receipt, err := c.sender.SendAndWaitMined(ctx, req)
	if err != nil {
		if errors.Is(err, eth.ErrTxReverted) {
			return "", &chain.RevertError{Reason: err.Error()}
		}
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// FinalizeDeposit pre-flights finalizeDeposit(id), which doubles as the
// quote for the native value forwarded to L2 messaging, then submits the
// payable call.
func (c *Client) FinalizeDeposit(ctx context.Context, d deposit.Deposit) (string, error) {
	key, err := parseDepositKey(d.ID)
	if err != nil {
		return "", err
	}
	data, err := depositorABI.Pack("finalizeDeposit", key)
	if err != nil {
		return "", fmt.Errorf("l1: pack finalizeDeposit: %w", err)
	}

	req := eth.TxRequest{To: c.depositor, Data: data}
	out, err := c.sender.Call(ctx, req)
	if err != nil {
		return "", &chain.RevertError{Reason: revertReason(err)}
	}

	value, err := unpackUint(depositorABI, "finalizeDeposit", out)
	if err != nil {
		// Older depositor deployments return nothing; ask the quote verb.
		value, err = c.QuoteFinalizeDeposit(ctx)
		if err != nil {
			return "", err
		}
	}
	if value == nil || value.Sign() < 0 {
		value = big.NewInt(0)
	}

	req.Value = value
	receipt, err := c.sender.SendAndWaitMined(ctx, req)
	if err != nil {
		if errors.Is(err, eth.ErrTxReverted) {
			return "", &chain.RevertError{Reason: err.Error()}
		}
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// QuoteFinalizeDeposit reads the native value finalizeDeposit requires.
func (c *Client) QuoteFinalizeDeposit(ctx context.Context) (*big.Int, error) {
	data, err := depositorABI.Pack("quoteFinalizeDeposit")
	if err != nil {
		return nil, fmt.Errorf("l1: pack quoteFinalizeDeposit: %w", err)
	}
	out, err := c.sender.Call(ctx, eth.TxRequest{To: c.depositor, Data: data})
	if err != nil {
		return nil, err
	}
	return unpackUint(depositorABI, "quoteFinalizeDeposit", out)
}

// DepositStatus reads deposits(id) from the depositor contract. Numbers
// outside the known mapping report found=false.
func (c *Client) DepositStatus(ctx context.Context, id string) (deposit.Status, bool, error) {
	key, err := parseDepositKey(id)
	if err != nil {
		return 0, false, err
	}
	data, err := depositorABI.Pack("deposits", key)
	if err != nil {
		return 0, false, fmt.Errorf("l1: pack deposits: %w", err)
	}
	out, err := c.sender.Call(ctx, eth.TxRequest{To: c.depositor, Data: data})
	if err != nil {
		return 0, false, err
	}
	raw, err := unpackUint(depositorABI, "deposits", out)
	if err != nil {
		return 0, false, err
	}

	switch {
	case raw.Cmp(big.NewInt(int64(deposit.StatusQueued))) == 0:
		return deposit.StatusQueued, true, nil
	case raw.Cmp(big.NewInt(int64(deposit.StatusInitialized))) == 0:
		return deposit.StatusInitialized, true, nil
	case raw.Cmp(big.NewInt(int64(deposit.StatusFinalized))) == 0:
		return deposit.StatusFinalized, true, nil
	default:
		return 0, false, nil
	}
}

// MintingFinalized is a decoded TBTCVault.OptimisticMintingFinalized event.
type MintingFinalized struct {
	DepositKey string
}

// WatchMintingFinalized subscribes to the vault and feeds decoded events to
// sink until ctx is canceled or the subscription dies. Callers own the
// reconnect policy.
func (c *Client) WatchMintingFinalized(ctx context.Context, sink func(MintingFinalized)) error {
	if sink == nil {
		return fmt.Errorf("%w: nil sink", ErrInvalidClientConfig)
	}
	q := ethereum.FilterQuery{
		Addresses: []common.Address{c.vault},
		Topics:    [][]common.Hash{{vaultABI.Events["OptimisticMintingFinalized"].ID}},
	}

	logs := make(chan types.Log, 16)
	sub, err := c.logs.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case lg := <-logs:
			ev, ok := decodeMintingFinalized(lg)
			if !ok {
				continue
			}
			sink(ev)
		}
	}
}

func decodeMintingFinalized(lg types.Log) (MintingFinalized, bool) {
	// depositKey is the second indexed argument.
	if len(lg.Topics) < 3 {
		return MintingFinalized{}, false
	}
	key := new(big.Int).SetBytes(lg.Topics[2].Bytes())
	return MintingFinalized{DepositKey: key.String()}, true
}

func parseDepositKey(id string) (*big.Int, error) {
	key, ok := new(big.Int).SetString(id, 10)
	if !ok || key.Sign() < 0 {
		return nil, fmt.Errorf("%w: deposit id %q is not a decimal u256", ErrInvalidInput, id)
	}
	return key, nil
}

func unpackUint(contract abi.ABI, method string, out []byte) (*big.Int, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("l1: %s returned no data", method)
	}
	vals, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("l1: unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("l1: unpack %s: want 1 value, got %d", method, len(vals))
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("l1: unpack %s: unexpected type %T", method, vals[0])
	}
	return v, nil
}

// revertReason digs the human-readable reason out of an eth_call failure.
// Providers that attach ABI-encoded revert data get it decoded; everything
// else falls back to the raw error text.
func revertReason(err error) string {
	if err == nil {
		return "Unknown error"
	}

	var de rpc.DataError
	if errors.As(err, &de) {
		if data, ok := de.ErrorData().(string); ok {
			raw := strings.TrimPrefix(data, "0x")
			if b, decodeErr := hex.DecodeString(raw); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(b); unpackErr == nil && reason != "" {
					return reason
				}
			}
		}
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return "Unknown error"
}
