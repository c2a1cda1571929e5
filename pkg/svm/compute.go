package svm

import (
	"errors"
	"sync/atomic"
)

// Compute unit prices. A transaction carries a budget; every program call and
// every address derivation it performs draws from that budget.
const (
	CUDefault = uint64(200_000)
	CUMax     = uint64(1_400_000)

	CUInvokeBase           = uint64(1_000) // per cross-program invocation
	CUInvokePerAccount     = uint64(10)    // per account meta passed to the callee
	CUCreateProgramAddress = uint64(1_500) // per signer seed set verified
	CUFindProgramAddress   = uint64(1_500) // bump search by a program

	CUSystemProgramDefault = uint64(150)
	CUNativeProgramDefault = uint64(1_000)
)

// ErrComputeExceeded is returned once a transaction has spent its budget.
var ErrComputeExceeded = errors.New("compute budget exceeded")

// ComputeMeter is the compute budget of one transaction.
//
// Running out is terminal: the failing charge drains the meter, so Consumed
// reports the full limit for a transaction aborted by its budget.
type ComputeMeter struct {
	limit    uint64
	consumed atomic.Uint64
}

// NewComputeMeter returns a meter holding limit units, capped at CUMax.
func NewComputeMeter(limit uint64) *ComputeMeter {
	return &ComputeMeter{limit: min(limit, CUMax)}
}

// Consume charges cost units.
func (cm *ComputeMeter) Consume(cost uint64) error {
	for {
		used := cm.consumed.Load()
		next := used + cost
		if next > cm.limit || next < used {
			cm.consumed.Store(cm.limit)
			return ErrComputeExceeded
		}
		if cm.consumed.CompareAndSwap(used, next) {
			return nil
		}
	}
}

func (cm *ComputeMeter) Remaining() uint64 {
	return cm.limit - cm.consumed.Load()
}

func (cm *ComputeMeter) Consumed() uint64 {
	return cm.consumed.Load()
}

func (cm *ComputeMeter) Limit() uint64 {
	return cm.limit
}
