package endpoint

import (
	"encoding/json"
	"errors"
	"testing"
)

func validIntentJSON(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"version": "deposit-intent.v1",
		"fundingTx": map[string]string{
			"version":      "0x01000000",
			"inputVector":  "0x0101",
			"outputVector": "0x0102",
			"locktime":     "0x00000000",
		},
		"reveal": map[string]any{
			"fundingOutputIndex":  2,
			"blindingFactor":      "0xf9f0c90d00039523",
			"walletPublicKeyHash": "0x8db50eb52063ea9d98b3eac91489a90f738986f6",
			"refundPublicKeyHash": "0x28e081f285138ccbe389c1eb8985716230129f89",
			"refundLocktime":      "0x60bcea61",
			"extraData":           "0x00000000000000000000000000000000000000000000000000000000000000aa",
		},
		"l2DepositOwner": "0xdeadbeef",
		"l2Sender":       "0xfeedface",
	})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return raw
}

func TestDecodeIntent(t *testing.T) {
	t.Parallel()

	in, err := DecodeIntent(validIntentJSON(t))
	if err != nil {
		t.Fatalf("DecodeIntent: %v", err)
	}
	if in.Reveal.FundingOutputIndex != 2 {
		t.Fatalf("output index: got %d", in.Reveal.FundingOutputIndex)
	}
	if in.FundingTx.InputVector != "0x0101" {
		t.Fatalf("input vector: got %q", in.FundingTx.InputVector)
	}
	ev := in.event()
	if ev.L2DepositOwner != "0xdeadbeef" || ev.L2Sender != "0xfeedface" {
		t.Fatalf("event owner/sender: %q / %q", ev.L2DepositOwner, ev.L2Sender)
	}
}

func TestDecodeIntent_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]func([]byte) []byte{
		"not json":      func([]byte) []byte { return []byte("{") },
		"wrong version": replaceField(t, "version", "deposit-intent.v2"),
		"missing owner": replaceField(t, "l2DepositOwner", ""),
		"missing tx":    replaceField(t, "fundingTx", map[string]string{}),
	}
	for name, mutate := range cases {
		raw := mutate(nil)
		if _, err := DecodeIntent(raw); !errors.Is(err, ErrInvalidIntent) {
			t.Fatalf("%s: got %v want ErrInvalidIntent", name, err)
		}
	}
}

func replaceField(t *testing.T, key string, val any) func([]byte) []byte {
	t.Helper()
	return func([]byte) []byte {
		var m map[string]any
		if err := json.Unmarshal(validIntentJSON(t), &m); err != nil {
			t.Fatalf("unmarshal fixture: %v", err)
		}
		m[key] = val
		raw, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("marshal mutated fixture: %v", err)
		}
		return raw
	}
}
