package vesting

import (
	"encoding/binary"

	"github.com/fortiblox/x1-vesting/internal/types"
	"github.com/fortiblox/x1-vesting/pkg/svm"
	"github.com/fortiblox/x1-vesting/pkg/svm/programs/system"
)

// InstructionType is the leading tag byte of every vesting instruction.
type InstructionType uint8

const (
	InstructionInitialize InstructionType = iota
	InstructionCreateVestingSchedule
)

func (t InstructionType) String() string {
	switch t {
	case InstructionInitialize:
		return "Initialize"
	case InstructionCreateVestingSchedule:
		return "CreateVestingSchedule"
	default:
		return "Unknown"
	}
}

const (
	initializeArgsSize            = 32
	createVestingScheduleArgsSize = 32 + 8 + 8 + 8 + 8
)

// Instruction is a decoded vesting instruction: either *InitializeArgs or
// *CreateVestingScheduleArgs.
type Instruction interface {
	Type() InstructionType
	Marshal() []byte
}

// InitializeArgs are the arguments of Initialize.
type InitializeArgs struct {
	Administrator types.Pubkey
}

func (a *InitializeArgs) Type() InstructionType { return InstructionInitialize }

// Marshal encodes the instruction: tag (1) + administrator (32).
func (a *InitializeArgs) Marshal() []byte {
	data := make([]byte, 1+initializeArgsSize)
	data[0] = byte(InstructionInitialize)
	copy(data[1:], a.Administrator[:])
	return data
}

// CreateVestingScheduleArgs are the arguments of CreateVestingSchedule.
type CreateVestingScheduleArgs struct {
	Beneficiary types.Pubkey
	Amount      uint64
	StartDate   uint64
	Cliff       uint64
	Duration    uint64
}

func (a *CreateVestingScheduleArgs) Type() InstructionType {
	return InstructionCreateVestingSchedule
}

// Marshal encodes the instruction: tag (1) + beneficiary (32) + amount,
// start_date, cliff and duration as little-endian u64s.
func (a *CreateVestingScheduleArgs) Marshal() []byte {
	data := make([]byte, 1+createVestingScheduleArgsSize)
	data[0] = byte(InstructionCreateVestingSchedule)
	copy(data[1:33], a.Beneficiary[:])
	binary.LittleEndian.PutUint64(data[33:], a.Amount)
	binary.LittleEndian.PutUint64(data[41:], a.StartDate)
	binary.LittleEndian.PutUint64(data[49:], a.Cliff)
	binary.LittleEndian.PutUint64(data[57:], a.Duration)
	return data
}

// Schedule returns the schedule these arguments describe.
func (a *CreateVestingScheduleArgs) Schedule() VestingSchedule {
	return VestingSchedule{
		Duration:  a.Duration,
		Amount:    a.Amount,
		Cliff:     a.Cliff,
		StartDate: a.StartDate,
	}
}

// DecodeInstruction parses instruction bytes. Unknown tags, short buffers and
// trailing bytes all yield ErrMalformedInstruction.
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return nil, ErrMalformedInstruction
	}

	body := data[1:]
	switch InstructionType(data[0]) {
	case InstructionInitialize:
		if len(body) != initializeArgsSize {
			return nil, ErrMalformedInstruction
		}
		var args InitializeArgs
		copy(args.Administrator[:], body)
		return &args, nil

	case InstructionCreateVestingSchedule:
		if len(body) != createVestingScheduleArgsSize {
			return nil, ErrMalformedInstruction
		}
		var args CreateVestingScheduleArgs
		copy(args.Beneficiary[:], body[0:32])
		args.Amount = binary.LittleEndian.Uint64(body[32:])
		args.StartDate = binary.LittleEndian.Uint64(body[40:])
		args.Cliff = binary.LittleEndian.Uint64(body[48:])
		args.Duration = binary.LittleEndian.Uint64(body[56:])
		return &args, nil

	default:
		return nil, ErrMalformedInstruction
	}
}

// InitializeInstructionAccounts are the accounts supplied by the caller of
// NewInitializeInstruction. The configuration account is taken from the root.
type InitializeInstructionAccounts struct {
	Payer types.Pubkey
	Mint  types.Pubkey
}

// NewInitializeInstruction builds an Initialize instruction.
//
// Account references:
//  0. [WRITE, SIGNER] Payer
//  1. [WRITE] Configuration account
//  2. [] Token mint
//  3. [] System program
//  4. [] Rent sysvar
func NewInitializeInstruction(
	root *Root,
	accounts *InitializeInstructionAccounts,
	args *InitializeArgs,
) svm.Instruction {
	return svm.Instruction{
		ProgramID: root.ProgramID,
		Accounts: []svm.AccountMeta{
			{Pubkey: accounts.Payer, IsSigner: true, IsWritable: true},
			{Pubkey: root.ConfigAddress, IsWritable: true},
			{Pubkey: accounts.Mint},
			{Pubkey: system.ProgramID},
			{Pubkey: types.SysvarRentAddr},
		},
		Data: args.Marshal(),
	}
}

// CreateVestingScheduleInstructionAccounts are the accounts supplied by the
// caller of NewCreateVestingScheduleInstruction.
type CreateVestingScheduleInstructionAccounts struct {
	Administrator types.Pubkey
}

// NewCreateVestingScheduleInstruction builds a CreateVestingSchedule
// instruction, deriving the schedule address from the beneficiary.
//
// Account references:
//  0. [] Configuration account
//  1. [WRITE] Schedule account
//  2. [WRITE, SIGNER] Administrator
//  3. [] System program
//  4. [] Rent sysvar
func NewCreateVestingScheduleInstruction(
	root *Root,
	accounts *CreateVestingScheduleInstructionAccounts,
	args *CreateVestingScheduleArgs,
) (svm.Instruction, error) {
	schedule, _, err := root.ScheduleAddress(args.Beneficiary)
	if err != nil {
		return svm.Instruction{}, err
	}

	return svm.Instruction{
		ProgramID: root.ProgramID,
		Accounts: []svm.AccountMeta{
			{Pubkey: root.ConfigAddress},
			{Pubkey: schedule, IsWritable: true},
			{Pubkey: accounts.Administrator, IsSigner: true, IsWritable: true},
			{Pubkey: system.ProgramID},
			{Pubkey: types.SysvarRentAddr},
		},
		Data: args.Marshal(),
	}, nil
}
