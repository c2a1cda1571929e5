// Package runtime executes transactions against an accounts database.
//
// A transaction runs all of its instructions against a private working copy
// of the accounts it references. If every instruction succeeds, the modified
// accounts are committed to the database in one batch; otherwise nothing is
// written. Transactions that touch disjoint writable accounts execute
// concurrently; conflicting ones serialize on per-account locks.
//
// Programs call each other through the InvokeContext passed to them. Nested
// calls may only use privileges the caller holds, plus signer status for
// addresses derived from the caller's program id.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/x1-vesting/internal/types"
	"github.com/fortiblox/x1-vesting/pkg/accounts"
	"github.com/fortiblox/x1-vesting/pkg/journal"
	"github.com/fortiblox/x1-vesting/pkg/svm"
	"github.com/fortiblox/x1-vesting/pkg/svm/programs/system"
)

// MaxInvokeDepth is the deepest allowed call stack, top-level included.
const MaxInvokeDepth = 4

// Recorder persists executed transactions.
type Recorder interface {
	Append(entry *journal.Entry) (uint64, error)
}

// Config holds runtime configuration.
type Config struct {
	// ComputeLimit is the default per-transaction compute budget.
	ComputeLimit uint64

	// Registerer receives the runtime metrics. Nil disables registration.
	Registerer prometheus.Registerer

	// Recorder, if set, receives an entry for every executed transaction.
	Recorder Recorder
}

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() Config {
	return Config{
		ComputeLimit: svm.CUDefault,
	}
}

type registeredProgram struct {
	name    string
	program svm.Program
}

// Runtime executes transactions.
type Runtime struct {
	db     accounts.DB
	config Config
	log    *logrus.Entry

	programsMu sync.RWMutex
	programs   map[types.Pubkey]registeredProgram

	locks   *lockTable
	metrics *runtimeMetrics

	// commitMu orders slot advancement between concurrent commits.
	commitMu sync.Mutex
}

// New creates a runtime over db with the System Program registered.
func New(db accounts.DB, config Config) *Runtime {
	if config.ComputeLimit == 0 {
		config.ComputeLimit = svm.CUDefault
	}

	r := &Runtime{
		db:       db,
		config:   config,
		log:      logrus.StandardLogger().WithField("type", "runtime"),
		programs: make(map[types.Pubkey]registeredProgram),
		locks:    newLockTable(),
		metrics:  newRuntimeMetrics(config.Registerer),
	}
	r.RegisterProgram(system.ProgramID, "system", system.NewProcessor())
	return r
}

// RegisterProgram makes program callable at id. name labels its metrics.
func (r *Runtime) RegisterProgram(id types.Pubkey, name string, program svm.Program) {
	r.programsMu.Lock()
	defer r.programsMu.Unlock()
	r.programs[id] = registeredProgram{name: name, program: program}
}

func (r *Runtime) program(id types.Pubkey) (registeredProgram, bool) {
	r.programsMu.RLock()
	defer r.programsMu.RUnlock()
	p, ok := r.programs[id]
	return p, ok
}

// Accounts returns the underlying accounts database.
func (r *Runtime) Accounts() accounts.DB {
	return r.db
}

// GetAccount returns the committed state of pubkey.
func (r *Runtime) GetAccount(pubkey types.Pubkey) (*accounts.Account, error) {
	return r.db.GetAccount(pubkey)
}

// Execute runs tx atomically. Instruction failures are reported through the
// returned Result; the error is non-nil only if the transaction could not be
// attempted or its outcome could not be committed.
func (r *Runtime) Execute(ctx context.Context, tx *Transaction) (*Result, error) {
	start := time.Now()

	if len(tx.Instructions) == 0 {
		return nil, ErrEmptyTransaction
	}
	reqs, err := tx.accountLocks()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	release := r.locks.acquire(reqs)
	defer release()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := r.config.ComputeLimit
	if tx.ComputeLimit > 0 {
		limit = tx.ComputeLimit
	}

	exec := newExecution(r, reqs, svm.NewComputeMeter(limit))
	if err := exec.load(); err != nil {
		return nil, err
	}

	result := &Result{ID: tx.ID()}
	log := r.log.WithField("tx", result.ID.String())

	var execErr error
	for i, ix := range tx.Instructions {
		if err := exec.processInstruction(ix); err != nil {
			execErr = fmt.Errorf("instruction %d failed: %w", i, err)
			break
		}
	}

	result.Logs = exec.logs
	result.ComputeUnitsUsed = exec.meter.Consumed()

	if execErr != nil {
		result.Err = execErr
		result.Error = execErr.Error()
		result.Slot = r.committedSlot()
		r.metrics.transactions.WithLabelValues("failure").Inc()
		log.WithError(execErr).Debug("transaction failed")
	} else {
		entries := exec.modified()
		slot, err := r.commit(entries)
		if err != nil {
			return nil, err
		}

		result.Success = true
		result.Slot = slot
		result.DeltaHash = accounts.ComputeDeltaHash(entries)
		for _, e := range entries {
			result.ModifiedAccounts = append(result.ModifiedAccounts, e.Pubkey)
		}
		r.metrics.transactions.WithLabelValues("success").Inc()
		log.WithFields(logrus.Fields{
			"slot":     slot,
			"modified": len(entries),
			"cu":       result.ComputeUnitsUsed,
		}).Debug("transaction committed")
	}

	r.record(log, result)
	r.metrics.duration.Observe(time.Since(start).Seconds())
	return result, nil
}

// commit writes entries in one batch and advances the slot.
func (r *Runtime) commit(entries []accounts.AccountEntry) (uint64, error) {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	if err := r.db.SetAccounts(entries); err != nil {
		return 0, fmt.Errorf("commit accounts: %w", err)
	}
	slot := r.db.GetSlot() + 1
	if err := r.db.SetSlot(slot); err != nil {
		return 0, fmt.Errorf("advance slot: %w", err)
	}
	return slot, nil
}

// committedSlot reads the slot of the last commit.
func (r *Runtime) committedSlot() uint64 {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()
	return r.db.GetSlot()
}

func (r *Runtime) record(log *logrus.Entry, result *Result) {
	if r.config.Recorder == nil {
		return
	}

	entry := &journal.Entry{
		ID:               result.ID,
		Slot:             result.Slot,
		Success:          result.Success,
		Error:            result.Error,
		Logs:             result.Logs,
		ComputeUnitsUsed: result.ComputeUnitsUsed,
		ModifiedAccounts: result.ModifiedAccounts,
		DeltaHash:        result.DeltaHash,
		Timestamp:        time.Now().UTC(),
	}
	if _, err := r.config.Recorder.Append(entry); err != nil {
		log.WithError(err).Warn("failed to record transaction")
	}
}

// Airdrop credits lamports to pubkey outside of any program. It exists to
// fund payers on a local ledger.
func (r *Runtime) Airdrop(ctx context.Context, pubkey types.Pubkey, lamports uint64) error {
	release := r.locks.acquire(map[types.Pubkey]bool{pubkey: true})
	defer release()

	if err := ctx.Err(); err != nil {
		return err
	}

	acct, err := r.db.GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		acct = &accounts.Account{Owner: types.SystemProgramAddr}
	} else if err != nil {
		return err
	}

	if acct.Lamports+lamports < acct.Lamports {
		return system.ErrLamportOverflow
	}
	acct.Lamports += lamports

	if err := r.db.SetAccount(pubkey, acct); err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		"account":  pubkey.String(),
		"lamports": lamports,
	}).Info("airdrop")
	return nil
}
