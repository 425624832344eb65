package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrInvalidSenderConfig = errors.New("eth: invalid sender config")
	ErrTxReverted          = errors.New("eth: transaction reverted")
)

// Backend is the subset of an EVM JSON-RPC client the sender needs.
// *ethclient.Client satisfies it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type SenderConfig struct {
	ChainID     *big.Int
	MinTipCap   *big.Int
	ReceiptPoll time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Sender submits EIP-1559 transactions and waits for inclusion. The signing
// wallet is shared across all deposits; nonce allocation is serialized by the
// nonce manager.
type Sender struct {
	backend Backend
	signer  Signer
	nonces  *NonceManager
	cfg     SenderConfig
}

type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

func NewSender(backend Backend, signer Signer, cfg SenderConfig) (*Sender, error) {
	if backend == nil || signer == nil {
		return nil, fmt.Errorf("%w: nil backend or signer", ErrInvalidSenderConfig)
	}
	if (signer.Address() == common.Address{}) {
		return nil, fmt.Errorf("%w: signer has zero address", ErrInvalidSenderConfig)
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: ChainID must be > 0", ErrInvalidSenderConfig)
	}
	if cfg.MinTipCap == nil {
		cfg.MinTipCap = big.NewInt(0)
	}
	if cfg.MinTipCap.Sign() < 0 {
		return nil, fmt.Errorf("%w: MinTipCap must be >= 0", ErrInvalidSenderConfig)
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &Sender{
		backend: backend,
		signer:  signer,
		nonces:  NewNonceManager(backend, signer.Address()),
		cfg:     cfg,
	}, nil
}

func (s *Sender) From() common.Address { return s.signer.Address() }

// Call performs a read-only simulated call at the latest block from the
// signer's address. This is the pre-flight used to detect reverts before
// paying gas.
func (s *Sender) Call(ctx context.Context, req TxRequest) ([]byte, error) {
	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}
	return s.backend.CallContract(ctx, ethereum.CallMsg{
		From:  s.signer.Address(),
		To:    &req.To,
		Value: value,
		Data:  req.Data,
	}, nil)
}

// SendAndWaitMined signs, broadcasts and waits until the transaction is
// included. A mined-with-revert receipt is returned alongside ErrTxReverted.
func (s *Sender) SendAndWaitMined(ctx context.Context, req TxRequest) (*types.Receipt, error) {
	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}

	from := s.signer.Address()
	gasLimit, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &req.To,
		Value: value,
		Data:  req.Data,
	})
	if err != nil {
		return nil, err
	}

	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, err
	}
	if tip.Cmp(s.cfg.MinTipCap) < 0 {
		tip = new(big.Int).Set(s.cfg.MinTipCap)
	}
	header, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	if header.BaseFee == nil || header.BaseFee.Sign() < 0 {
		return nil, fmt.Errorf("eth: missing baseFee in latest header")
	}
	// feeCap = 2*baseFee + tip tolerates short base-fee spikes while waiting.
	feeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)

	nonce, err := s.nonces.Next(ctx)
	if err != nil {
		return nil, err
	}

	to := req.To
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := s.signer.SignTx(tx, s.cfg.ChainID)
	if err != nil {
		return nil, err
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		s.nonces.Reset()
		return nil, err
	}

	h := signed.Hash()
	for {
		receipt, err := s.backend.TransactionReceipt(ctx, h)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: %s", ErrTxReverted, h)
			}
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		if err := s.cfg.Sleep(ctx, s.cfg.ReceiptPoll); err != nil {
			return nil, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
