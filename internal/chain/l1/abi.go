package l1

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var ErrInvalidInput = errors.New("l1: invalid input")

// depositorABIJSON describes the verbs the relayer uses on
// L1BitcoinDepositor. finalizeDeposit is payable; the required value is
// discovered by pre-flighting the same call.
const depositorABIJSON = `[
  {
    "type": "function",
    "name": "initializeDeposit",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "fundingTx", "type": "tuple", "components": [
        {"name": "version", "type": "bytes4"},
        {"name": "inputVector", "type": "bytes"},
        {"name": "outputVector", "type": "bytes"},
        {"name": "locktime", "type": "bytes4"}
      ]},
      {"name": "reveal", "type": "tuple", "components": [
        {"name": "fundingOutputIndex", "type": "uint32"},
        {"name": "blindingFactor", "type": "bytes8"},
        {"name": "walletPubKeyHash", "type": "bytes20"},
        {"name": "refundPubKeyHash", "type": "bytes20"},
        {"name": "refundLocktime", "type": "bytes4"},
        {"name": "extraData", "type": "bytes32"}
      ]},
      {"name": "l2DepositOwner", "type": "bytes32"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "finalizeDeposit",
    "stateMutability": "payable",
    "inputs": [{"name": "depositKey", "type": "uint256"}],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "quoteFinalizeDeposit",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "deposits",
    "stateMutability": "view",
    "inputs": [{"name": "depositKey", "type": "uint256"}],
    "outputs": [{"name": "", "type": "uint256"}]
  }
]`

const vaultABIJSON = `[
  {
    "type": "event",
    "name": "OptimisticMintingFinalized",
    "inputs": [
      {"name": "minter", "type": "address", "indexed": true},
      {"name": "depositKey", "type": "uint256", "indexed": true},
      {"name": "depositor", "type": "address", "indexed": true},
      {"name": "optimisticMintingDebt", "type": "uint256", "indexed": false}
    ]
  }
]`

var (
	abiOnce sync.Once
	abiErr  error

	depositorABI abi.ABI
	vaultABI     abi.ABI
)

func loadABIs() error {
	abiOnce.Do(func() {
		depositorABI, abiErr = abi.JSON(strings.NewReader(depositorABIJSON))
		if abiErr != nil {
			abiErr = fmt.Errorf("l1: parse depositor ABI: %w", abiErr)
			return
		}
		vaultABI, abiErr = abi.JSON(strings.NewReader(vaultABIJSON))
		if abiErr != nil {
			abiErr = fmt.Errorf("l1: parse vault ABI: %w", abiErr)
		}
	})
	return abiErr
}
