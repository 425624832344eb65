package l1

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
)

// The calldata structs mirror the ABI tuple component names; go-ethereum
// packs them by field name.

type fundingTxArgs struct {
	Version      [4]byte
	InputVector  []byte
	OutputVector []byte
	Locktime     [4]byte
}

type revealArgs struct {
	FundingOutputIndex uint32
	BlindingFactor     [8]byte
	WalletPubKeyHash   [20]byte
	RefundPubKeyHash   [20]byte
	RefundLocktime     [4]byte
	ExtraData          [32]byte
}

func hexBytes(field, s string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, field, err)
	}
	return b, nil
}

func hexFixed(field, s string, n int) ([]byte, error) {
	b, err := hexBytes(field, s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("%w: %s: want %d bytes, got %d", ErrInvalidInput, field, n, len(b))
	}
	return b, nil
}

func buildFundingTxArgs(tx deposit.FundingTransaction) (fundingTxArgs, error) {
	var out fundingTxArgs

	version, err := hexFixed("fundingTx.version", tx.Version, 4)
	if err != nil {
		return out, err
	}
	locktime, err := hexFixed("fundingTx.locktime", tx.Locktime, 4)
	if err != nil {
		return out, err
	}
	inputVector, err := hexBytes("fundingTx.inputVector", tx.InputVector)
	if err != nil {
		return out, err
	}
	outputVector, err := hexBytes("fundingTx.outputVector", tx.OutputVector)
	if err != nil {
		return out, err
	}

	copy(out.Version[:], version)
	copy(out.Locktime[:], locktime)
	out.InputVector = inputVector
	out.OutputVector = outputVector
	return out, nil
}

func buildRevealArgs(rv deposit.Reveal) (revealArgs, error) {
	out := revealArgs{FundingOutputIndex: rv.FundingOutputIndex}

	blinding, err := hexFixed("reveal.blindingFactor", rv.BlindingFactor, 8)
	if err != nil {
		return out, err
	}
	wallet, err := hexFixed("reveal.walletPublicKeyHash", rv.WalletPublicKeyHash, 20)
	if err != nil {
		return out, err
	}
	refund, err := hexFixed("reveal.refundPublicKeyHash", rv.RefundPublicKeyHash, 20)
	if err != nil {
		return out, err
	}
	locktime, err := hexFixed("reveal.refundLocktime", rv.RefundLocktime, 4)
	if err != nil {
		return out, err
	}
	// extraData is left-padded; shorter chains (EVM addresses) are common.
	extra, err := hexBytes("reveal.extraData", rv.ExtraData)
	if err != nil {
		return out, err
	}
	if len(extra) > 32 {
		return out, fmt.Errorf("%w: reveal.extraData: want <= 32 bytes, got %d", ErrInvalidInput, len(extra))
	}

	copy(out.BlindingFactor[:], blinding)
	copy(out.WalletPubKeyHash[:], wallet)
	copy(out.RefundPubKeyHash[:], refund)
	copy(out.RefundLocktime[:], locktime)
	copy(out.ExtraData[:], common.LeftPadBytes(extra, 32))
	return out, nil
}

// ownerBytes32 left-pads the destination-chain owner into a bytes32. EVM
// addresses occupy the low 20 bytes; other chains pass full 32-byte ids.
func ownerBytes32(owner string) ([32]byte, error) {
	var out [32]byte
	b, err := hexBytes("l2DepositOwner", owner)
	if err != nil {
		return out, err
	}
	if len(b) == 0 || len(b) > 32 {
		return out, fmt.Errorf("%w: l2DepositOwner: want 1..32 bytes, got %d", ErrInvalidInput, len(b))
	}
	copy(out[:], common.LeftPadBytes(b, 32))
	return out, nil
}
