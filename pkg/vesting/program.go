// Package vesting implements the token vesting ledger program.
//
// The program owns two kinds of accounts. The configuration account lives at
// a derived address (seed "STATE") and records the administrator and token
// mint. Schedule accounts live at addresses derived from the seeds "vesting"
// and a beneficiary key and hold one VestingSchedule each.
//
// Only the configured administrator may create schedules, and a schedule slot
// can be written once. Both accounts are created through the System Program,
// with the program signing for its derived addresses.
package vesting

import (
	"fmt"

	"github.com/fortiblox/x1-vesting/pkg/svm"
	"github.com/fortiblox/x1-vesting/pkg/svm/programs/system"
)

// Program processes vesting instructions for one Root.
type Program struct {
	root *Root
}

// NewProgram returns the processor for root.
func NewProgram(root *Root) *Program {
	return &Program{root: root}
}

// Root returns the ledger root the program serves.
func (p *Program) Root() *Root {
	return p.root
}

// Process decodes data and executes the instruction against ctx.
func (p *Program) Process(ctx svm.InvokeContext, data []byte) error {
	if ctx.ProgramID() != p.root.ProgramID {
		return ErrIncorrectProgramID
	}
	if err := ctx.ConsumeCompute(svm.CUNativeProgramDefault); err != nil {
		return err
	}

	ix, err := DecodeInstruction(data)
	if err != nil {
		return err
	}

	ctx.Log(fmt.Sprintf("Instruction: %s", ix.Type()))

	switch args := ix.(type) {
	case *InitializeArgs:
		return p.processInitialize(ctx, args)
	case *CreateVestingScheduleArgs:
		return p.processCreateVestingSchedule(ctx, args)
	default:
		return ErrMalformedInstruction
	}
}

// processInitialize creates the configuration account and records the
// administrator and mint.
// Accounts: [0] payer (signer, writable), [1] config (writable), [2] mint
func (p *Program) processInitialize(ctx svm.InvokeContext, args *InitializeArgs) error {
	accts := ctx.Accounts()
	if len(accts) < 3 {
		return ErrNotEnoughAccountKeys
	}
	payer, config, mint := accts[0], accts[1], accts[2]

	if !payer.IsSigner {
		return ErrUnauthorized
	}
	if config.Key != p.root.ConfigAddress {
		return ErrInvalidConfigurationAddress
	}
	if !config.IsUninitialized() {
		return ErrAlreadyInitialized
	}

	if err := p.createAccount(ctx, payer, config, ConfigurationRecordSize, p.root.ConfigSignerSeeds()); err != nil {
		return err
	}

	record := ConfigurationRecord{
		Administrator: args.Administrator,
		Mint:          mint.Key,
	}
	copy(config.Data, record.Marshal())

	ctx.Log(fmt.Sprintf("Initialized config %s: administrator=%s mint=%s", config.Key, record.Administrator, record.Mint))
	return nil
}

// processCreateVestingSchedule writes a schedule into the beneficiary's slot,
// creating the slot account if needed.
// Accounts: [0] config, [1] schedule (writable), [2] administrator (signer, writable)
func (p *Program) processCreateVestingSchedule(ctx svm.InvokeContext, args *CreateVestingScheduleArgs) error {
	accts := ctx.Accounts()
	if len(accts) < 3 {
		return ErrNotEnoughAccountKeys
	}
	config, slot, admin := accts[0], accts[1], accts[2]

	if config.Owner != p.root.ProgramID || !admin.IsSigner {
		return ErrUnauthorized
	}
	if config.Key != p.root.ConfigAddress {
		return ErrInvalidConfigurationAddress
	}

	var record ConfigurationRecord
	if err := record.Unmarshal(config.Data); err != nil {
		return ErrInvalidConfigurationData
	}
	if record.Administrator != admin.Key {
		return ErrUnauthorized
	}

	if err := ctx.ConsumeCompute(svm.CUFindProgramAddress); err != nil {
		return err
	}
	expected, bump, err := p.root.ScheduleAddress(args.Beneficiary)
	if err != nil {
		return ErrInvalidScheduleAddress
	}
	if slot.Key != expected {
		return ErrInvalidScheduleAddress
	}

	switch {
	case slot.Owner == p.root.ProgramID:
		var existing VestingSchedule
		if err := existing.Unmarshal(slot.Data); err != nil {
			return ErrInvalidAccountData
		}
		if !existing.IsEmpty() {
			return ErrScheduleAlreadyExists
		}
	case slot.IsUninitialized():
	default:
		return ErrInvalidAccountData
	}

	schedule := args.Schedule()
	if err := schedule.Validate(); err != nil {
		return err
	}

	if slot.Owner != p.root.ProgramID {
		if err := p.createAccount(ctx, admin, slot, VestingScheduleSize, scheduleSignerSeeds(args.Beneficiary, bump)); err != nil {
			return err
		}
	}

	copy(slot.Data, schedule.Marshal())

	ctx.Log(fmt.Sprintf(
		"Created schedule %s: beneficiary=%s amount=%d start=%d cliff=%d duration=%d",
		slot.Key, args.Beneficiary, schedule.Amount, schedule.StartDate, schedule.Cliff, schedule.Duration,
	))
	return nil
}

// createAccount turns target, a System-owned account without data, into a
// rent-exempt program account of space bytes. funder pays. target signs
// through seeds.
//
// A target that already holds lamports cannot go through CreateAccount, so it
// is topped up to the rent-exempt minimum and then allocated and assigned in
// place.
func (p *Program) createAccount(ctx svm.InvokeContext, funder, target *svm.AccountInfo, space uint64, seeds [][]byte) error {
	r, err := ctx.Rent()
	if err != nil {
		return wrapCause(ErrRentLookupFailed, err, "read rent")
	}
	required := r.MinimumBalance(space)

	if target.Lamports == 0 {
		create := system.CreateAccount(funder.Key, target.Key, required, space, p.root.ProgramID)
		if err := ctx.InvokeSigned(create, seeds); err != nil {
			return wrapCause(ErrAccountCreationFailed, err, "create account "+target.Key.String())
		}
		return nil
	}

	if target.Lamports < required {
		topUp := system.Transfer(funder.Key, target.Key, required-target.Lamports)
		if err := ctx.InvokeSigned(topUp); err != nil {
			return wrapCause(ErrAccountCreationFailed, err, "fund account "+target.Key.String())
		}
	}
	if err := ctx.InvokeSigned(system.Allocate(target.Key, space), seeds); err != nil {
		return wrapCause(ErrAccountCreationFailed, err, "allocate account "+target.Key.String())
	}
	if err := ctx.InvokeSigned(system.Assign(target.Key, p.root.ProgramID), seeds); err != nil {
		return wrapCause(ErrAccountCreationFailed, err, "assign account "+target.Key.String())
	}
	return nil
}
