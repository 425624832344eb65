package endpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
)

var ErrInvalidIntent = errors.New("endpoint: invalid deposit intent")

const intentVersionV1 = "deposit-intent.v1"

// IntentV1 is the off-chain wire form of a deposit intent: the same payload
// the on-chain DepositInitialized event carries, published by the
// destination-chain gateway instead of observed over RPC.
type IntentV1 struct {
	Version        string                     `json:"version"`
	FundingTx      deposit.FundingTransaction `json:"fundingTx"`
	Reveal         deposit.Reveal             `json:"reveal"`
	L2DepositOwner string                     `json:"l2DepositOwner"`
	L2Sender       string                     `json:"l2Sender"`
}

// DecodeIntent parses and validates one intent message.
func DecodeIntent(raw []byte) (IntentV1, error) {
	var in IntentV1
	if err := json.Unmarshal(raw, &in); err != nil {
		return IntentV1{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	if in.Version != intentVersionV1 {
		return IntentV1{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidIntent, in.Version)
	}
	for field, v := range map[string]string{
		"fundingTx.version":      in.FundingTx.Version,
		"fundingTx.inputVector":  in.FundingTx.InputVector,
		"fundingTx.outputVector": in.FundingTx.OutputVector,
		"fundingTx.locktime":     in.FundingTx.Locktime,
		"l2DepositOwner":         in.L2DepositOwner,
		"l2Sender":               in.L2Sender,
	} {
		if strings.TrimSpace(v) == "" {
			return IntentV1{}, fmt.Errorf("%w: missing %s", ErrInvalidIntent, field)
		}
	}
	return in, nil
}

func (in IntentV1) event() deposit.L1OutputEvent {
	return deposit.L1OutputEvent{
		FundingTx:      in.FundingTx,
		Reveal:         in.Reveal,
		L2DepositOwner: in.L2DepositOwner,
		L2Sender:       in.L2Sender,
	}
}
