package runtime

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/x1-vesting/internal/types"
	"github.com/fortiblox/x1-vesting/pkg/svm"
)

var (
	// ErrEmptyTransaction is returned for a transaction without instructions.
	ErrEmptyTransaction = errors.New("transaction has no instructions")

	// ErrMissingSignature is returned when an instruction marks an account as
	// a signer that did not sign the transaction.
	ErrMissingSignature = errors.New("missing required signature")
)

// Transaction is an ordered list of instructions executed atomically.
type Transaction struct {
	Instructions []svm.Instruction

	// Signers are the accounts that authorized the transaction. Signature
	// verification happens before a transaction reaches the runtime.
	Signers []types.Pubkey

	// Nonce distinguishes otherwise identical transactions.
	Nonce uint64

	// ComputeLimit overrides the runtime's default budget when non-zero.
	ComputeLimit uint64
}

// ID returns the blake3 digest identifying the transaction.
func (tx *Transaction) ID() types.Hash {
	h := blake3.New()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], tx.Nonce)
	h.Write(buf[:])

	binary.LittleEndian.PutUint32(buf[:4], uint32(len(tx.Signers)))
	h.Write(buf[:4])
	for _, signer := range tx.Signers {
		h.Write(signer[:])
	}

	binary.LittleEndian.PutUint32(buf[:4], uint32(len(tx.Instructions)))
	h.Write(buf[:4])
	for _, ix := range tx.Instructions {
		h.Write(ix.ProgramID[:])
		binary.LittleEndian.PutUint32(buf[:4], uint32(len(ix.Accounts)))
		h.Write(buf[:4])
		for _, meta := range ix.Accounts {
			h.Write(meta.Pubkey[:])
			var flags byte
			if meta.IsSigner {
				flags |= 1
			}
			if meta.IsWritable {
				flags |= 2
			}
			h.Write([]byte{flags})
		}
		binary.LittleEndian.PutUint32(buf[:4], uint32(len(ix.Data)))
		h.Write(buf[:4])
		h.Write(ix.Data)
	}

	var id types.Hash
	copy(id[:], h.Sum(nil))
	return id
}

// accountLocks returns every account the transaction touches mapped to
// whether it is written. Sysvars are always read-only. Every account an
// instruction marks as a signer must be among the transaction signers.
func (tx *Transaction) accountLocks() (map[types.Pubkey]bool, error) {
	signed := make(map[types.Pubkey]bool, len(tx.Signers))
	for _, s := range tx.Signers {
		signed[s] = true
	}

	locks := make(map[types.Pubkey]bool)
	for i, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if meta.IsSigner && !signed[meta.Pubkey] {
				return nil, fmt.Errorf("instruction %d: %w: %s", i, ErrMissingSignature, meta.Pubkey)
			}
			writable := meta.IsWritable && !types.IsSysvar(meta.Pubkey)
			locks[meta.Pubkey] = locks[meta.Pubkey] || writable
		}
	}
	for _, s := range tx.Signers {
		if _, ok := locks[s]; !ok {
			locks[s] = false
		}
	}
	return locks, nil
}

// Result is the outcome of executing a transaction.
type Result struct {
	ID      types.Hash
	Slot    uint64
	Success bool

	// Err is the instruction failure for unsuccessful transactions.
	Err   error
	Error string

	Logs             []string
	ComputeUnitsUsed uint64
	ModifiedAccounts []types.Pubkey
	DeltaHash        types.Hash
}
