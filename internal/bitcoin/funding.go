// Package bitcoin computes identifiers for raw Bitcoin funding transactions.
package bitcoin

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
)

var ErrInvalidFundingTx = errors.New("bitcoin: invalid funding transaction")

// FundingTxHash returns the canonical Bitcoin txid (double SHA-256 of the
// serialized transaction, display byte order) as a 64-char hex string without
// prefix. The deposit id derivation consumes this exact form.
func FundingTxHash(tx deposit.FundingTransaction) (string, error) {
	version, err := part("version", tx.Version)
	if err != nil {
		return "", err
	}
	inputs, err := part("inputVector", tx.InputVector)
	if err != nil {
		return "", err
	}
	outputs, err := part("outputVector", tx.OutputVector)
	if err != nil {
		return "", err
	}
	locktime, err := part("locktime", tx.Locktime)
	if err != nil {
		return "", err
	}

	serialized := make([]byte, 0, len(version)+len(inputs)+len(outputs)+len(locktime))
	serialized = append(serialized, version...)
	serialized = append(serialized, inputs...)
	serialized = append(serialized, outputs...)
	serialized = append(serialized, locktime...)
	if len(serialized) == 0 {
		return "", fmt.Errorf("%w: empty transaction", ErrInvalidFundingTx)
	}

	h := chainhash.DoubleHashH(serialized)
	return h.String(), nil
}

func part(field, s string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFundingTx, field, err)
	}
	return b, nil
}
