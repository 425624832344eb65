// Package depositid derives canonical deposit identifiers.
//
// The id must match what the L1BitcoinDepositor contract computes, otherwise
// status lookups and vault notifications key to the wrong record.
package depositid

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

var ErrInvalidFundingHash = errors.New("depositid: invalid funding tx hash")

// FromFundingTx computes the deposit id as the decimal representation of
//
//	uint256(keccak256(fundingTxHash || outputIndexBE32))
//
// where fundingTxHash is the 32-byte Bitcoin funding transaction hash and
// outputIndexBE32 is the 4-byte big-endian funding output index.
//
// fundingTxHash must be exactly 64 hex characters (an optional 0x prefix is
// tolerated); anything else fails with ErrInvalidFundingHash.
func FromFundingTx(fundingTxHash string, outputIndex uint32) (string, error) {
	raw := strings.TrimPrefix(fundingTxHash, "0x")
	if len(raw) != 64 {
		return "", fmt.Errorf("%w: want 64 hex chars, got %d", ErrInvalidFundingHash, len(raw))
	}
	txHash, err := hex.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFundingHash, err)
	}

	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], outputIndex)

	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(txHash)
	_, _ = h.Write(idx[:])

	return new(big.Int).SetBytes(h.Sum(nil)).String(), nil
}
