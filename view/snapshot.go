// Package view maintains the client-visible snapshot of one escrow instance.
// Each remote field is read independently; a failed read marks its own slot
// and never invalidates the rest of the snapshot.
package view

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"escrowflow/ledger"
)

// Field is one snapshot slot: a value, an explicit error marker, or skipped
// (the zero Field) when the read does not apply to the current status.
type Field[T any] struct {
	value T
	err   error
	set   bool
}

// FieldOf wraps a successfully read value.
func FieldOf[T any](v T) Field[T] { return Field[T]{value: v, set: true} }

// FieldErr marks a slot whose read failed.
func FieldErr[T any](err error) Field[T] { return Field[T]{err: err} }

// Value returns the read value; valid only when OK reports true.
func (f Field[T]) Value() T { return f.value }

// Err returns the error marker, if the read failed.
func (f Field[T]) Err() error { return f.err }

// OK reports whether the read succeeded.
func (f Field[T]) OK() bool { return f.set }

// Skipped reports whether the read was not issued for the current status.
func (f Field[T]) Skipped() bool { return !f.set && f.err == nil }

// Snapshot is the per-field view of one instance. Fields are independent:
// consult each slot's state before using its value.
type Snapshot struct {
	Status                               Field[ledger.Status]
	Value                                Field[*big.Int]
	Arbitrator                           Field[common.Address]
	RemainingTimeToReclaim               Field[time.Duration]
	RemainingTimeToDepositArbitrationFee Field[time.Duration]
}
