package deposit

import (
	"errors"
	"time"
)

var ErrInvalidTransition = errors.New("deposit: invalid transition")

// NewQueued builds a fresh record from an observed deposit intent.
func NewQueued(id string, fundingTxHash string, outputIndex uint32, ev L1OutputEvent, now time.Time) Deposit {
	ms := epochMillis(now)
	return Deposit{
		ID:            id,
		FundingTxHash: fundingTxHash,
		OutputIndex:   outputIndex,
		Receipt: Receipt{
			Depositor:           ev.L2Sender,
			BlindingFactor:      ev.Reveal.BlindingFactor,
			WalletPublicKeyHash: ev.Reveal.WalletPublicKeyHash,
			RefundPublicKeyHash: ev.Reveal.RefundPublicKeyHash,
			RefundLocktime:      ev.Reveal.RefundLocktime,
			ExtraData:           ev.Reveal.ExtraData,
		},
		L1OutputEvent: ev,
		Owner:         ev.L2DepositOwner,
		Status:        StatusQueued,
		Dates: Dates{
			CreatedAt:      ms,
			LastActivityAt: ms,
		},
	}
}

// Touch bumps lastActivityAt. The timestamp never moves backwards.
func Touch(d Deposit, now time.Time) Deposit {
	ms := epochMillis(now)
	if ms > d.Dates.LastActivityAt {
		d.Dates.LastActivityAt = ms
	}
	return d
}

// EligibleForRetry reports whether the activity throttle allows a reconcile
// pass to touch this record.
func EligibleForRetry(d Deposit, now time.Time) bool {
	return now.UnixMilli()-d.Dates.LastActivityAt > RetryInterval.Milliseconds()
}

// MarkInitialized advances the record after the initialize transaction mined.
// An empty txHash records the on-chain fact without a local transaction
// (another relayer won the race or the subscription missed our own send).
func MarkInitialized(d Deposit, txHash string, now time.Time) (Deposit, error) {
	switch {
	case d.Status == StatusFinalized:
		return d, ErrInvalidTransition
	case d.Status == StatusInitialized:
		return Touch(d, now), nil
	}

	ms := epochMillis(now)
	d.Status = StatusInitialized
	if txHash != "" {
		h := txHash
		d.Hashes.Eth.InitializeTxHash = &h
	}
	d.Dates.InitializationAt = &ms
	d.Error = nil
	return Touch(d, now), nil
}

// MarkFinalized advances the record to its terminal state. An empty txHash
// records a remotely observed finalization.
func MarkFinalized(d Deposit, txHash string, now time.Time) (Deposit, error) {
	if d.Status == StatusFinalized {
		return Touch(d, now), nil
	}

	ms := epochMillis(now)
	if d.Status == StatusQueued {
		// Fast-forward through INITIALIZED so downstream invariants hold.
		d.Status = StatusInitialized
		d.Dates.InitializationAt = &ms
	}
	d.Status = StatusFinalized
	if txHash != "" {
		h := txHash
		d.Hashes.Eth.FinalizeTxHash = &h
	}
	d.Dates.FinalizationAt = &ms
	d.Error = nil
	return Touch(d, now), nil
}

// RecordFailure notes the last failure reason and bumps activity so the
// throttle spaces out retries. Status is unchanged; retries continue forever.
func RecordFailure(d Deposit, reason string, now time.Time) Deposit {
	if reason == "" {
		reason = "Unknown error"
	}
	d.Error = &reason
	return Touch(d, now)
}
