package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is a storage-defined transaction handle (pgx.Tx for Postgres, the store's own tx for memory).
type Tx interface{}

// NoTX runs a repository call outside any transaction.
var NoTX Tx

// TransactionManager runs fn inside one storage transaction and commits when fn
// returns nil. Any error rolls back every write made through tx.
//
// Repositories accept NoTX (nil) for single-statement calls. Inside a transaction
// they take row or collection locks, so callers must touch collections in the
// fixed order Inventory -> Payment -> Customer -> Coupon -> Discounts.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
