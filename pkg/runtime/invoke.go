package runtime

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"

	"github.com/fortiblox/x1-vesting/internal/types"
	"github.com/fortiblox/x1-vesting/pkg/accounts"
	"github.com/fortiblox/x1-vesting/pkg/pda"
	"github.com/fortiblox/x1-vesting/pkg/rent"
	"github.com/fortiblox/x1-vesting/pkg/svm"
)

// Errors raised when a program breaks the account ownership rules.
var (
	ErrReadonlyModified      = errors.New("instruction modified a read-only account")
	ErrExternalDataModified  = errors.New("instruction modified data of an account it does not own")
	ErrExternalLamportSpend  = errors.New("instruction spent lamports of an account it does not own")
	ErrIllegalOwnerChange    = errors.New("instruction changed the owner of an account it does not own")
	ErrExecutableModified    = errors.New("instruction changed the executable flag")
	ErrUnbalancedInstruction = errors.New("instruction changed the total lamport balance")
)

// execution is the working state of one transaction.
type execution struct {
	rt    *Runtime
	meter *svm.ComputeMeter
	logs  []string

	locks    map[types.Pubkey]bool
	state    map[types.Pubkey]*accounts.Account
	original map[types.Pubkey]*accounts.Account

	rentCache *rent.Rent
}

func newExecution(rt *Runtime, locks map[types.Pubkey]bool, meter *svm.ComputeMeter) *execution {
	return &execution{
		rt:       rt,
		meter:    meter,
		locks:    locks,
		state:    make(map[types.Pubkey]*accounts.Account, len(locks)),
		original: make(map[types.Pubkey]*accounts.Account, len(locks)),
	}
}

// load reads every locked account. Missing accounts start out empty and
// owned by the System Program.
func (e *execution) load() error {
	for key := range e.locks {
		acct, err := e.rt.db.GetAccount(key)
		if errors.Is(err, accounts.ErrAccountNotFound) {
			acct = &accounts.Account{Owner: types.SystemProgramAddr}
		} else if err != nil {
			return fmt.Errorf("load account %s: %w", key, err)
		}
		e.state[key] = acct
		e.original[key] = acct.Clone()
	}
	return nil
}

// modified returns the writable accounts whose state differs from what was
// loaded, sorted by key.
func (e *execution) modified() []accounts.AccountEntry {
	keys := make([]types.Pubkey, 0)
	for key, writable := range e.locks {
		if writable && !accountEqual(e.original[key], e.state[key]) {
			keys = append(keys, key)
		}
	}
	accounts.SortPubkeys(keys)

	entries := make([]accounts.AccountEntry, len(keys))
	for i, key := range keys {
		entries[i] = accounts.AccountEntry{Pubkey: key, Account: e.state[key]}
	}
	return entries
}

func (e *execution) log(msg string) {
	e.logs = append(e.logs, msg)
	e.rt.log.WithField("program_log", msg).Trace("program log")
}

func (e *execution) rent() (rent.Rent, error) {
	if e.rentCache != nil {
		return *e.rentCache, nil
	}

	acct, ok := e.state[types.SysvarRentAddr]
	if !ok {
		var err error
		acct, err = e.rt.db.GetAccount(types.SysvarRentAddr)
		if err != nil {
			return rent.Rent{}, errors.Wrap(svm.ErrRentUnavailable, err.Error())
		}
	}
	r, err := rent.Unmarshal(acct.Data)
	if err != nil {
		return rent.Rent{}, errors.Wrap(svm.ErrRentUnavailable, err.Error())
	}
	e.rentCache = &r
	return r, nil
}

// processInstruction runs a top-level instruction and folds the writable
// results back into the transaction's working state.
func (e *execution) processInstruction(ix svm.Instruction) error {
	infos := make([]*svm.AccountInfo, len(ix.Accounts))
	byKey := make(map[types.Pubkey]*svm.AccountInfo, len(ix.Accounts))

	for i, meta := range ix.Accounts {
		writable := meta.IsWritable && e.locks[meta.Pubkey]
		if info, ok := byKey[meta.Pubkey]; ok {
			info.IsSigner = info.IsSigner || meta.IsSigner
			info.IsWritable = info.IsWritable || writable
			infos[i] = info
			continue
		}

		acct := e.state[meta.Pubkey]
		info := &svm.AccountInfo{
			Key:        meta.Pubkey,
			Owner:      acct.Owner,
			Lamports:   acct.Lamports,
			Data:       append([]byte(nil), acct.Data...),
			Executable: acct.Executable,
			RentEpoch:  acct.RentEpoch,
			IsSigner:   meta.IsSigner,
			IsWritable: writable,
		}
		byKey[meta.Pubkey] = info
		infos[i] = info
	}

	if err := e.invoke(ix.ProgramID, infos, ix.Data, 1); err != nil {
		return err
	}

	for key, info := range byKey {
		if !info.IsWritable {
			continue
		}
		acct := e.state[key]
		acct.Owner = info.Owner
		acct.Lamports = info.Lamports
		acct.Data = info.Data
		acct.Executable = info.Executable
	}
	return nil
}

// invoke dispatches to the program at programID and checks the changes it
// made against the ownership rules.
func (e *execution) invoke(programID types.Pubkey, infos []*svm.AccountInfo, data []byte, depth int) error {
	registered, ok := e.rt.program(programID)
	if !ok {
		return errors.Wrap(svm.ErrUnknownProgram, programID.String())
	}
	e.rt.metrics.instructions.WithLabelValues(registered.name).Inc()

	e.log(fmt.Sprintf("Program %s invoke [%d]", programID, depth))

	ctx := &invokeContext{
		exec:      e,
		programID: programID,
		accounts:  infos,
		depth:     depth,
		pre:       snapshot(infos),
	}
	if err := registered.program.Process(ctx, data); err != nil {
		e.log(fmt.Sprintf("Program %s failed: %v", programID, err))
		return err
	}
	if err := verifyChanges(programID, ctx.pre, infos); err != nil {
		e.log(fmt.Sprintf("Program %s failed: %v", programID, err))
		return err
	}

	e.log(fmt.Sprintf("Program %s success", programID))
	return nil
}

// invokeContext implements svm.InvokeContext for one call frame.
type invokeContext struct {
	exec      *execution
	programID types.Pubkey
	accounts  []*svm.AccountInfo
	depth     int

	// pre is the account state the frame's changes are checked against. It
	// is refreshed after every nested call.
	pre map[types.Pubkey]accountSnapshot
}

func (c *invokeContext) ProgramID() types.Pubkey {
	return c.programID
}

func (c *invokeContext) Accounts() []*svm.AccountInfo {
	return c.accounts
}

func (c *invokeContext) Rent() (rent.Rent, error) {
	return c.exec.rent()
}

func (c *invokeContext) ConsumeCompute(units uint64) error {
	return c.exec.meter.Consume(units)
}

func (c *invokeContext) Log(msg string) {
	c.exec.log("Program log: " + msg)
}

func (c *invokeContext) find(key types.Pubkey) *svm.AccountInfo {
	for _, info := range c.accounts {
		if info.Key == key {
			return info
		}
	}
	return nil
}

// InvokeSigned runs ix as a nested call. Each seed list in signerSeeds must
// derive an address from the caller's program id; those addresses may sign.
func (c *invokeContext) InvokeSigned(ix svm.Instruction, signerSeeds ...[][]byte) error {
	if c.depth >= MaxInvokeDepth {
		return svm.ErrCallDepthExceeded
	}
	cost := svm.CUInvokeBase + svm.CUInvokePerAccount*uint64(len(ix.Accounts))
	if err := c.ConsumeCompute(cost); err != nil {
		return err
	}

	derived := make(map[types.Pubkey]bool, len(signerSeeds))
	for _, seeds := range signerSeeds {
		if err := c.ConsumeCompute(svm.CUCreateProgramAddress); err != nil {
			return err
		}
		addr, err := pda.CreateProgramAddress(c.programID, seeds...)
		if err != nil {
			return errors.Wrap(err, "derive signer address")
		}
		derived[addr] = true
	}

	// Changes made before the call must already be legal.
	if err := verifyChanges(c.programID, c.pre, c.accounts); err != nil {
		return err
	}

	callee := make([]*svm.AccountInfo, len(ix.Accounts))
	byKey := make(map[types.Pubkey]*svm.AccountInfo, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		caller := c.find(meta.Pubkey)
		if caller == nil {
			return errors.Wrap(svm.ErrAccountNotFound, meta.Pubkey.String())
		}
		if meta.IsSigner && !caller.IsSigner && !derived[meta.Pubkey] {
			return errors.Wrapf(svm.ErrPrivilegeEscalation, "%s is not a signer", meta.Pubkey)
		}
		if meta.IsWritable && !caller.IsWritable {
			return errors.Wrapf(svm.ErrPrivilegeEscalation, "%s is not writable", meta.Pubkey)
		}

		if info, ok := byKey[meta.Pubkey]; ok {
			info.IsSigner = info.IsSigner || meta.IsSigner
			info.IsWritable = info.IsWritable || meta.IsWritable
			callee[i] = info
			continue
		}

		info := *caller
		info.Data = append([]byte(nil), caller.Data...)
		info.IsSigner = meta.IsSigner
		info.IsWritable = meta.IsWritable
		byKey[meta.Pubkey] = &info
		callee[i] = &info
	}

	if err := c.exec.invoke(ix.ProgramID, callee, ix.Data, c.depth+1); err != nil {
		return err
	}

	for key, info := range byKey {
		if !info.IsWritable {
			continue
		}
		caller := c.find(key)
		caller.Owner = info.Owner
		caller.Lamports = info.Lamports
		caller.Data = info.Data
		caller.Executable = info.Executable
	}
	c.pre = snapshot(c.accounts)
	return nil
}

type accountSnapshot struct {
	owner      types.Pubkey
	lamports   uint64
	data       []byte
	executable bool
}

func snapshot(infos []*svm.AccountInfo) map[types.Pubkey]accountSnapshot {
	out := make(map[types.Pubkey]accountSnapshot, len(infos))
	for _, info := range infos {
		out[info.Key] = accountSnapshot{
			owner:      info.Owner,
			lamports:   info.Lamports,
			data:       append([]byte(nil), info.Data...),
			executable: info.Executable,
		}
	}
	return out
}

// verifyChanges enforces the ownership rules on what programID did to infos
// since pre was taken: only writable accounts change, only the owner may
// modify data, spend lamports or reassign ownership, and lamports are
// conserved.
func verifyChanges(programID types.Pubkey, pre map[types.Pubkey]accountSnapshot, infos []*svm.AccountInfo) error {
	var before, after uint64
	seen := make(map[types.Pubkey]bool, len(infos))

	for _, info := range infos {
		if seen[info.Key] {
			continue
		}
		seen[info.Key] = true

		p := pre[info.Key]
		before += p.lamports
		after += info.Lamports

		ownerChanged := p.owner != info.Owner
		dataChanged := !bytes.Equal(p.data, info.Data)
		lamportsChanged := p.lamports != info.Lamports

		if !info.IsWritable && (ownerChanged || dataChanged || lamportsChanged || p.executable != info.Executable) {
			return errors.Wrap(ErrReadonlyModified, info.Key.String())
		}
		if p.executable != info.Executable {
			return errors.Wrap(ErrExecutableModified, info.Key.String())
		}
		if p.owner != programID {
			switch {
			case ownerChanged:
				return errors.Wrap(ErrIllegalOwnerChange, info.Key.String())
			case dataChanged:
				return errors.Wrap(ErrExternalDataModified, info.Key.String())
			case info.Lamports < p.lamports:
				return errors.Wrap(ErrExternalLamportSpend, info.Key.String())
			}
		}
	}

	if before != after {
		return ErrUnbalancedInstruction
	}
	return nil
}

func accountEqual(a, b *accounts.Account) bool {
	return a.Owner == b.Owner &&
		a.Lamports == b.Lamports &&
		a.Executable == b.Executable &&
		a.RentEpoch == b.RentEpoch &&
		bytes.Equal(a.Data, b.Data)
}
