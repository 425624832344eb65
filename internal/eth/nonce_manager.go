package eth

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type PendingNoncer interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager allocates sequential nonces for a single account.
//
// Every allocation consults the network's pending transaction count and takes
// max(local, network), so nonces stay correct when another process (or a
// previous run of this one) has transactions in flight. After a failed send
// the local counter is dropped; the next allocation re-syncs from the
// network.
type NonceManager struct {
	backend PendingNoncer
	addr    common.Address

	mu   sync.Mutex
	next uint64
	have bool
}

func NewNonceManager(backend PendingNoncer, addr common.Address) *NonceManager {
	return &NonceManager{backend: backend, addr: addr}
}

// Next reserves and returns the nonce for the next transaction.
func (m *NonceManager) Next(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	network, err := m.backend.PendingNonceAt(ctx, m.addr)
	if err != nil {
		return 0, err
	}

	n := network
	if m.have && m.next > n {
		n = m.next
	}
	m.next = n + 1
	m.have = true
	return n, nil
}

// Reset forgets the local counter after a failed send so stale reservations
// cannot leave a gap.
func (m *NonceManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.have = false
}
