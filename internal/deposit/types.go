package deposit

import (
	"fmt"
	"time"
)

// Status is the lifecycle position of a deposit. The numeric values are part
// of the on-chain interface: L1BitcoinDepositor.deposits(id) reports the same
// numbers, and persisted records store them verbatim.
type Status uint8

const (
	StatusQueued      Status = 0
	StatusInitialized Status = 1
	StatusFinalized   Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusInitialized:
		return "initialized"
	case StatusFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// RetryInterval is the minimum gap between reconcile touches of the same
// record. A deposit whose lastActivityAt is within this window is skipped by
// both reconcile passes.
const RetryInterval = 5 * time.Minute

// FundingTransaction is the raw Bitcoin funding transaction split into the
// pieces the L1 depositor contract expects.
type FundingTransaction struct {
	Version      string `json:"version"`
	InputVector  string `json:"inputVector"`
	OutputVector string `json:"outputVector"`
	Locktime     string `json:"locktime"`
}

// Reveal is the positional reveal tuple from the L2 deposit-intent event.
// All fields except the output index are opaque byte strings.
type Reveal struct {
	FundingOutputIndex  uint32 `json:"fundingOutputIndex"`
	BlindingFactor      string `json:"blindingFactor"`
	WalletPublicKeyHash string `json:"walletPublicKeyHash"`
	RefundPublicKeyHash string `json:"refundPublicKeyHash"`
	RefundLocktime      string `json:"refundLocktime"`
	ExtraData           string `json:"extraData"`
}

// Receipt mirrors the reveal parameters keyed the way operators read them.
type Receipt struct {
	Depositor           string `json:"depositor"`
	BlindingFactor      string `json:"blindingFactor"`
	WalletPublicKeyHash string `json:"walletPublicKeyHash"`
	RefundPublicKeyHash string `json:"refundPublicKeyHash"`
	RefundLocktime      string `json:"refundLocktime"`
	ExtraData           string `json:"extraData"`
}

// L1OutputEvent carries everything the L1 initialize call needs, exactly as
// observed on L2.
type L1OutputEvent struct {
	FundingTx      FundingTransaction `json:"fundingTx"`
	Reveal         Reveal             `json:"reveal"`
	L2DepositOwner string             `json:"l2DepositOwner"`
	L2Sender       string             `json:"l2Sender"`
}

// TxHashes holds the L1 ceremony transaction hashes once known.
type TxHashes struct {
	InitializeTxHash *string `json:"initializeTxHash"`
	FinalizeTxHash   *string `json:"finalizeTxHash"`
}

type Hashes struct {
	Eth TxHashes `json:"eth"`
}

// Dates are epoch milliseconds. InitializationAt and FinalizationAt are nil
// until the corresponding transition happens.
type Dates struct {
	CreatedAt        int64  `json:"createdAt"`
	InitializationAt *int64 `json:"initializationAt"`
	FinalizationAt   *int64 `json:"finalizationAt"`
	LastActivityAt   int64  `json:"lastActivityAt"`
}

// Deposit is the persisted per-deposit record. Identity fields (id, funding
// tx, receipt, L1OutputEvent, owner) are immutable after creation; status,
// hashes, dates and error advance under the transition helpers below.
type Deposit struct {
	ID            string        `json:"id"`
	FundingTxHash string        `json:"fundingTxHash"`
	OutputIndex   uint32        `json:"outputIndex"`
	Receipt       Receipt       `json:"receipt"`
	L1OutputEvent L1OutputEvent `json:"L1OutputEvent"`
	Owner         string        `json:"owner"`

	Status Status  `json:"status"`
	Hashes Hashes  `json:"hashes"`
	Dates  Dates   `json:"dates"`
	Error  *string `json:"error"`
}

func epochMillis(t time.Time) int64 {
	return t.UnixMilli()
}
