package evm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
)

// l2DepositorABIJSON declares the L2BitcoinDepositor event the handler
// observes. The funding transaction and reveal tuples travel in the data;
// owner and sender are indexed.
const l2DepositorABIJSON = `[
  {
    "type": "event",
    "name": "DepositInitialized",
    "inputs": [
      {"name": "fundingTx", "type": "tuple", "indexed": false, "components": [
        {"name": "version", "type": "bytes4"},
        {"name": "inputVector", "type": "bytes"},
        {"name": "outputVector", "type": "bytes"},
        {"name": "locktime", "type": "bytes4"}
      ]},
      {"name": "reveal", "type": "tuple", "indexed": false, "components": [
        {"name": "fundingOutputIndex", "type": "uint32"},
        {"name": "blindingFactor", "type": "bytes8"},
        {"name": "walletPubKeyHash", "type": "bytes20"},
        {"name": "refundPubKeyHash", "type": "bytes20"},
        {"name": "refundLocktime", "type": "bytes4"},
        {"name": "extraData", "type": "bytes32"}
      ]},
      {"name": "l2DepositOwner", "type": "address", "indexed": true},
      {"name": "l2Sender", "type": "address", "indexed": true}
    ]
  }
]`

var (
	l2ABIOnce sync.Once
	l2ABIErr  error
	l2ABI     abi.ABI
)

func loadL2ABI() error {
	l2ABIOnce.Do(func() {
		l2ABI, l2ABIErr = abi.JSON(strings.NewReader(l2DepositorABIJSON))
		if l2ABIErr != nil {
			l2ABIErr = fmt.Errorf("evm: parse L2 depositor ABI: %w", l2ABIErr)
		}
	})
	return l2ABIErr
}

func depositInitializedTopic() common.Hash {
	return l2ABI.Events["DepositInitialized"].ID
}

// decodeDepositInitialized turns a raw log into the chain-neutral intent the
// rest of the relayer consumes.
func decodeDepositInitialized(lg types.Log) (deposit.L1OutputEvent, error) {
	var data struct {
		FundingTx struct {
			Version      [4]byte
			InputVector  []byte
			OutputVector []byte
			Locktime     [4]byte
		}
		Reveal struct {
			FundingOutputIndex uint32
			BlindingFactor     [8]byte
			WalletPubKeyHash   [20]byte
			RefundPubKeyHash   [20]byte
			RefundLocktime     [4]byte
			ExtraData          [32]byte
		}
	}
	if err := l2ABI.UnpackIntoInterface(&data, "DepositInitialized", lg.Data); err != nil {
		return deposit.L1OutputEvent{}, fmt.Errorf("evm: unpack DepositInitialized: %w", err)
	}

	var topics struct {
		L2DepositOwner common.Address
		L2Sender       common.Address
	}
	indexed := indexedArgs(l2ABI.Events["DepositInitialized"].Inputs)
	if len(lg.Topics) < len(indexed)+1 {
		return deposit.L1OutputEvent{}, fmt.Errorf("evm: DepositInitialized log has %d topics", len(lg.Topics))
	}
	if err := abi.ParseTopics(&topics, indexed, lg.Topics[1:]); err != nil {
		return deposit.L1OutputEvent{}, fmt.Errorf("evm: parse DepositInitialized topics: %w", err)
	}

	return deposit.L1OutputEvent{
		FundingTx: deposit.FundingTransaction{
			Version:      hexutil.Encode(data.FundingTx.Version[:]),
			InputVector:  hexutil.Encode(data.FundingTx.InputVector),
			OutputVector: hexutil.Encode(data.FundingTx.OutputVector),
			Locktime:     hexutil.Encode(data.FundingTx.Locktime[:]),
		},
		Reveal: deposit.Reveal{
			FundingOutputIndex:  data.Reveal.FundingOutputIndex,
			BlindingFactor:      hexutil.Encode(data.Reveal.BlindingFactor[:]),
			WalletPublicKeyHash: hexutil.Encode(data.Reveal.WalletPubKeyHash[:]),
			RefundPublicKeyHash: hexutil.Encode(data.Reveal.RefundPubKeyHash[:]),
			RefundLocktime:      hexutil.Encode(data.Reveal.RefundLocktime[:]),
			ExtraData:           hexutil.Encode(data.Reveal.ExtraData[:]),
		},
		L2DepositOwner: topics.L2DepositOwner.Hex(),
		L2Sender:       topics.L2Sender.Hex(),
	}, nil
}

func indexedArgs(args abi.Arguments) abi.Arguments {
	out := make(abi.Arguments, 0, len(args))
	for _, a := range args {
		if a.Indexed {
			out = append(out, a)
		}
	}
	return out
}
