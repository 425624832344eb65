package depositid

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

// referenceID recomputes the id with go-ethereum's keccak, independently of
// the implementation's hasher.
func referenceID(t *testing.T, fundingTxHash string, outputIndex uint32) string {
	t.Helper()
	raw, err := hex.DecodeString(strings.TrimPrefix(fundingTxHash, "0x"))
	if err != nil {
		t.Fatalf("decode funding tx hash: %v", err)
	}
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], outputIndex)
	sum := crypto.Keccak256(raw, idx[:])
	return new(big.Int).SetBytes(sum).String()
}

func TestFromFundingTx_MatchesKeccakDerivation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		hash  string
		index uint32
	}{
		{strings.Repeat("11", 32), 0},
		{strings.Repeat("ab", 32), 1},
		{"0x" + strings.Repeat("f0", 32), 4294967295},
		{strings.Repeat("00", 32), 7},
	}
	for _, tc := range cases {
		got, err := FromFundingTx(tc.hash, tc.index)
		if err != nil {
			t.Fatalf("FromFundingTx(%q, %d): %v", tc.hash, tc.index, err)
		}
		want := referenceID(t, tc.hash, tc.index)
		if got != want {
			t.Fatalf("FromFundingTx(%q, %d): got %s want %s", tc.hash, tc.index, got, want)
		}
		for _, r := range got {
			if r < '0' || r > '9' {
				t.Fatalf("id is not decimal: %q", got)
			}
		}
	}
}

func TestFromFundingTx_Deterministic(t *testing.T) {
	t.Parallel()

	hash := strings.Repeat("42", 32)
	a, err := FromFundingTx(hash, 3)
	if err != nil {
		t.Fatalf("FromFundingTx: %v", err)
	}
	b, err := FromFundingTx(hash, 3)
	if err != nil {
		t.Fatalf("FromFundingTx: %v", err)
	}
	if a != b {
		t.Fatalf("same inputs produced different ids: %s vs %s", a, b)
	}

	c, err := FromFundingTx(hash, 4)
	if err != nil {
		t.Fatalf("FromFundingTx: %v", err)
	}
	if a == c {
		t.Fatalf("different output index produced the same id")
	}
}

func TestFromFundingTx_InvalidLength(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"", "1234", strings.Repeat("11", 31), strings.Repeat("11", 33)} {
		if _, err := FromFundingTx(bad, 0); !errors.Is(err, ErrInvalidFundingHash) {
			t.Fatalf("FromFundingTx(%q): got %v want ErrInvalidFundingHash", bad, err)
		}
	}
}

func TestFromFundingTx_InvalidHex(t *testing.T) {
	t.Parallel()

	bad := strings.Repeat("zz", 32)
	if _, err := FromFundingTx(bad, 0); !errors.Is(err, ErrInvalidFundingHash) {
		t.Fatalf("got %v want ErrInvalidFundingHash", err)
	}
}
