// Package svm defines the execution interfaces shared by the runtime and the
// native programs it runs.
//
// A program receives an InvokeContext exposing the ordered accounts of the
// instruction being executed. Accounts are positional: the instruction
// builder and the program agree on the role of each index. Changes a program
// makes to AccountInfo values are committed by the runtime only if the whole
// transaction succeeds.
package svm

import (
	"errors"

	"github.com/fortiblox/x1-vesting/internal/types"
	"github.com/fortiblox/x1-vesting/pkg/rent"
)

var (
	// ErrAccountNotFound is returned when a required account is missing.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidInstruction is returned for malformed instructions.
	ErrInvalidInstruction = errors.New("invalid instruction")

	// ErrUnknownProgram is returned when an instruction targets a program the
	// runtime has not registered.
	ErrUnknownProgram = errors.New("unknown program")

	// ErrPrivilegeEscalation is returned when a cross-program invocation asks
	// for signer or writable privileges the caller does not hold.
	ErrPrivilegeEscalation = errors.New("cross-program invocation privilege escalation")

	// ErrCallDepthExceeded is returned when nested invocations go too deep.
	ErrCallDepthExceeded = errors.New("cross-program invocation depth exceeded")

	// ErrRentUnavailable is returned when the rent sysvar cannot be read.
	ErrRentUnavailable = errors.New("rent sysvar unavailable")
)

// AccountInfo holds account state during execution.
type AccountInfo struct {
	Key        types.Pubkey
	Owner      types.Pubkey
	Lamports   uint64
	Data       []byte
	Executable bool
	RentEpoch  uint64
	IsSigner   bool
	IsWritable bool
}

// IsUnallocated reports whether the account has never been created: owned by
// the System Program with no balance and no data.
func (a *AccountInfo) IsUnallocated() bool {
	return a.Owner == types.SystemProgramAddr && a.Lamports == 0 && len(a.Data) == 0
}

// IsUninitialized reports whether the account holds no storage yet: owned by
// the System Program with no data. It may already carry lamports, since
// anyone can transfer to any address.
func (a *AccountInfo) IsUninitialized() bool {
	return a.Owner == types.SystemProgramAddr && len(a.Data) == 0
}

// AccountMeta describes an account in an instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single program call with its positional accounts.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// InvokeContext provides a program with its execution environment.
type InvokeContext interface {
	// ProgramID returns the address of the executing program.
	ProgramID() types.Pubkey

	// Accounts returns the instruction's accounts in positional order.
	Accounts() []*AccountInfo

	// Rent returns the current rent parameters.
	Rent() (rent.Rent, error)

	// ConsumeCompute charges compute units against the transaction budget.
	ConsumeCompute(units uint64) error

	// InvokeSigned executes ix as a nested call. Each entry of signerSeeds is
	// the full seed list (bump included) of a program derived address owned
	// by the calling program; those addresses are treated as signers.
	InvokeSigned(ix Instruction, signerSeeds ...[][]byte) error

	// Log records a program log message.
	Log(msg string)
}

// Program is a native program the runtime can execute.
type Program interface {
	// Process executes one instruction.
	Process(ctx InvokeContext, data []byte) error
}
