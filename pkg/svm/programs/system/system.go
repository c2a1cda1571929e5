// Package system implements the subset of the System Program the ledger
// needs: creating accounts, transferring lamports, assigning ownership and
// allocating space.
//
// All accounts start out owned by the System Program. Other programs obtain
// accounts by invoking CreateAccount, signing for derived addresses with
// their seeds.
package system

import (
	"encoding/binary"
	"errors"

	"github.com/fortiblox/x1-vesting/internal/types"
	"github.com/fortiblox/x1-vesting/pkg/accounts"
	"github.com/fortiblox/x1-vesting/pkg/svm"
)

// ProgramID is the System Program address.
var ProgramID = types.SystemProgramAddr

// Instruction discriminants.
const (
	InstructionCreateAccount uint32 = 0
	InstructionAssign        uint32 = 1
	InstructionTransfer      uint32 = 2
	InstructionAllocate      uint32 = 8
)

// Error types.
var (
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrInvalidAccountOwner      = errors.New("invalid account owner")
	ErrAccountNotRentExempt     = errors.New("account not rent exempt")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrAccountNotWritable       = errors.New("account not writable")
	ErrAccountDataTooSmall      = errors.New("account data too small")
	ErrAccountDataTooLarge      = errors.New("account data too large")
	ErrLamportOverflow          = errors.New("lamport overflow")
)

// Processor executes System Program instructions.
type Processor struct{}

// NewProcessor creates a new System Program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes a System Program instruction.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if len(data) < 4 {
		return ErrInvalidInstructionData
	}

	if err := ctx.ConsumeCompute(svm.CUSystemProgramDefault); err != nil {
		return err
	}

	switch binary.LittleEndian.Uint32(data[:4]) {
	case InstructionCreateAccount:
		return p.processCreateAccount(ctx, data[4:])
	case InstructionAssign:
		return p.processAssign(ctx, data[4:])
	case InstructionTransfer:
		return p.processTransfer(ctx, data[4:])
	case InstructionAllocate:
		return p.processAllocate(ctx, data[4:])
	default:
		return ErrInvalidInstructionData
	}
}

func account(ctx svm.InvokeContext, index int) (*svm.AccountInfo, error) {
	accts := ctx.Accounts()
	if index >= len(accts) {
		return nil, ErrNotEnoughAccountKeys
	}
	return accts[index], nil
}

// processCreateAccount creates a new account.
// Accounts: [0] funder (signer, writable), [1] new account (signer, writable)
// Data: lamports (8) + space (8) + owner (32)
func (p *Processor) processCreateAccount(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 48 {
		return ErrInvalidInstructionData
	}

	lamports := binary.LittleEndian.Uint64(data[0:8])
	space := binary.LittleEndian.Uint64(data[8:16])
	var owner types.Pubkey
	copy(owner[:], data[16:48])

	if space > accounts.MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	funder, err := account(ctx, 0)
	if err != nil {
		return err
	}
	newAccount, err := account(ctx, 1)
	if err != nil {
		return err
	}

	if !funder.IsSigner || !newAccount.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !funder.IsWritable || !newAccount.IsWritable {
		return ErrAccountNotWritable
	}

	if !newAccount.IsUnallocated() {
		return ErrAccountAlreadyInUse
	}

	if funder.Lamports < lamports {
		return ErrInsufficientFunds
	}

	r, err := ctx.Rent()
	if err != nil {
		return err
	}
	if !r.IsExempt(lamports, space) {
		return ErrAccountNotRentExempt
	}

	funder.Lamports -= lamports
	newAccount.Lamports = lamports
	newAccount.Data = make([]byte, space)
	newAccount.Owner = owner

	ctx.Log("CreateAccount: success")
	return nil
}

// processAssign changes the owner of an account.
// Accounts: [0] account (signer, writable)
func (p *Processor) processAssign(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 32 {
		return ErrInvalidInstructionData
	}

	var newOwner types.Pubkey
	copy(newOwner[:], data[0:32])

	acct, err := account(ctx, 0)
	if err != nil {
		return err
	}
	if !acct.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !acct.IsWritable {
		return ErrAccountNotWritable
	}
	if acct.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}

	acct.Owner = newOwner

	ctx.Log("Assign: success")
	return nil
}

// processTransfer transfers lamports between system-owned accounts.
// Accounts: [0] from (signer, writable), [1] to (writable)
func (p *Processor) processTransfer(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 8 {
		return ErrInvalidInstructionData
	}

	lamports := binary.LittleEndian.Uint64(data[0:8])

	from, err := account(ctx, 0)
	if err != nil {
		return err
	}
	to, err := account(ctx, 1)
	if err != nil {
		return err
	}

	if !from.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !from.IsWritable || !to.IsWritable {
		return ErrAccountNotWritable
	}
	if from.Owner != ProgramID || len(from.Data) > 0 {
		return ErrInvalidAccountOwner
	}
	if from.Lamports < lamports {
		return ErrInsufficientFunds
	}
	if to.Lamports > ^uint64(0)-lamports {
		return ErrLamportOverflow
	}

	from.Lamports -= lamports
	to.Lamports += lamports

	ctx.Log("Transfer: success")
	return nil
}

// processAllocate allocates space in a system-owned account.
// Accounts: [0] account (signer, writable)
func (p *Processor) processAllocate(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 8 {
		return ErrInvalidInstructionData
	}

	space := binary.LittleEndian.Uint64(data[0:8])
	if space > accounts.MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	acct, err := account(ctx, 0)
	if err != nil {
		return err
	}
	if !acct.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !acct.IsWritable {
		return ErrAccountNotWritable
	}
	if acct.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}
	if uint64(len(acct.Data)) > space {
		return ErrAccountDataTooSmall
	}

	if uint64(len(acct.Data)) < space {
		newData := make([]byte, space)
		copy(newData, acct.Data)
		acct.Data = newData
	}

	ctx.Log("Allocate: success")
	return nil
}
