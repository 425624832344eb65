package deposit

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("deposit: not found")
	ErrInvalidRecord = errors.New("deposit: invalid record")
)

// Store is a durable id -> record map. Implementations are safe for use from
// multiple goroutines within a single process; last writer wins on Put.
type Store interface {
	// Get returns the current record or ErrNotFound.
	Get(ctx context.Context, id string) (Deposit, error)

	// Create writes the record only if no record with the same id exists.
	// It reports whether a record was written. Duplicate creates are no-ops.
	Create(ctx context.Context, d Deposit) (bool, error)

	// Put overwrites the record unconditionally.
	Put(ctx context.Context, d Deposit) error

	// Delete removes the record. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// List returns all readable records. Corrupt records are skipped, not
	// fatal.
	List(ctx context.Context) ([]Deposit, error)

	// ListByStatus returns all readable records with the given status.
	ListByStatus(ctx context.Context, s Status) ([]Deposit, error)
}
