package service

import (
	"context"

	"github.com/hopngo/payments/internal/providers"
)

// TransactionManager defines the interface for transaction management.
// Services use this to wrap multiple repository operations in a single transaction.
type TransactionManager interface {
	// WithTransaction executes the given function within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	// Otherwise, it is committed.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker serialises work on one key across processes.
type Locker interface {
	// Lock fails with errors.ErrLockAcquisitionFailed when the key is held elsewhere.
	Lock(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// ProviderResolver looks up payment processors by exact name.
type ProviderResolver interface {
	Get(name string) (providers.Provider, error)
	Lookup(name string) (providers.Provider, bool)
}
