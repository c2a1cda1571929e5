package runtime

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-vesting/internal/types"
	"github.com/fortiblox/x1-vesting/pkg/accounts"
	"github.com/fortiblox/x1-vesting/pkg/journal"
	"github.com/fortiblox/x1-vesting/pkg/pda"
	"github.com/fortiblox/x1-vesting/pkg/rent"
	"github.com/fortiblox/x1-vesting/pkg/svm"
	"github.com/fortiblox/x1-vesting/pkg/svm/programs/system"
)

type programFunc func(ctx svm.InvokeContext, data []byte) error

func (f programFunc) Process(ctx svm.InvokeContext, data []byte) error {
	return f(ctx, data)
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries []*journal.Entry
}

func (r *memoryRecorder) Append(entry *journal.Entry) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	entry.Seq = uint64(len(r.entries))
	return entry.Seq, nil
}

func key(b byte) types.Pubkey {
	var k types.Pubkey
	k[0] = b
	k[31] = 0xee
	return k
}

var testProgramID = key(0xaa)

func newTestRuntime(t *testing.T, config Config) *Runtime {
	rt := New(accounts.NewMemoryDB(), config)
	require.NoError(t, rt.ApplyGenesis(&Genesis{Rent: rent.Default()}))
	return rt
}

func fund(t *testing.T, rt *Runtime, pubkey types.Pubkey, lamports uint64) {
	require.NoError(t, rt.Airdrop(context.Background(), pubkey, lamports))
}

func lamports(t *testing.T, rt *Runtime, pubkey types.Pubkey) uint64 {
	acct, err := rt.GetAccount(pubkey)
	if err == accounts.ErrAccountNotFound {
		return 0
	}
	require.NoError(t, err)
	return acct.Lamports
}

func TestExecute_Transfer(t *testing.T) {
	recorder := &memoryRecorder{}
	rt := newTestRuntime(t, Config{Recorder: recorder})

	from, to := key(1), key(2)
	fund(t, rt, from, 1_000)

	tx := &Transaction{
		Instructions: []svm.Instruction{system.Transfer(from, to, 400)},
		Signers:      []types.Pubkey{from},
	}
	res, err := rt.Execute(context.Background(), tx)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	assert.EqualValues(t, 600, lamports(t, rt, from))
	assert.EqualValues(t, 400, lamports(t, rt, to))
	assert.EqualValues(t, 1, res.Slot)
	assert.ElementsMatch(t, []types.Pubkey{from, to}, res.ModifiedAccounts)
	assert.False(t, res.DeltaHash.IsZero())
	assert.Equal(t, tx.ID(), res.ID)
	assert.NotZero(t, res.ComputeUnitsUsed)
	assert.Contains(t, res.Logs, fmt.Sprintf("Program %s invoke [1]", system.ProgramID))

	require.Len(t, recorder.entries, 1)
	assert.True(t, recorder.entries[0].Success)
	assert.Equal(t, res.ID, recorder.entries[0].ID)
}

func TestExecute_FailureCommitsNothing(t *testing.T) {
	recorder := &memoryRecorder{}
	rt := newTestRuntime(t, Config{Recorder: recorder})

	failing := fmt.Errorf("boom")
	rt.RegisterProgram(testProgramID, "failing", programFunc(func(svm.InvokeContext, []byte) error {
		return failing
	}))

	from, to := key(1), key(2)
	fund(t, rt, from, 1_000)
	slot := rt.Accounts().GetSlot()

	res, err := rt.Execute(context.Background(), &Transaction{
		Instructions: []svm.Instruction{
			system.Transfer(from, to, 400),
			{ProgramID: testProgramID},
		},
		Signers: []types.Pubkey{from},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, failing)
	assert.Contains(t, res.Error, "instruction 1 failed")
	assert.Empty(t, res.ModifiedAccounts)

	assert.EqualValues(t, 1_000, lamports(t, rt, from))
	assert.EqualValues(t, 0, lamports(t, rt, to))
	assert.Equal(t, slot, rt.Accounts().GetSlot())
	assert.Equal(t, slot, res.Slot)

	require.Len(t, recorder.entries, 1)
	assert.False(t, recorder.entries[0].Success)
}

func TestExecute_FailedResultReportsCommittedSlot(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	rt.RegisterProgram(testProgramID, "failing", programFunc(func(svm.InvokeContext, []byte) error {
		return fmt.Errorf("boom")
	}))

	const workers = 8
	const rounds = 10
	sink := key(0xff)
	for i := 0; i < workers; i++ {
		fund(t, rt, key(byte(i+1)), 1_000)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(payer types.Pubkey) {
			defer wg.Done()
			var last uint64
			for r := 0; r < rounds; r++ {
				ok, err := rt.Execute(context.Background(), &Transaction{
					Instructions: []svm.Instruction{system.Transfer(payer, sink, 1)},
					Signers:      []types.Pubkey{payer},
					Nonce:        uint64(r),
				})
				if !assert.NoError(t, err) {
					return
				}
				assert.Greater(t, ok.Slot, last)
				last = ok.Slot

				failed, err := rt.Execute(context.Background(), &Transaction{
					Instructions: []svm.Instruction{{ProgramID: testProgramID}},
					Nonce:        uint64(r),
				})
				if !assert.NoError(t, err) {
					return
				}
				assert.False(t, failed.Success)
				assert.GreaterOrEqual(t, failed.Slot, last)
				assert.LessOrEqual(t, failed.Slot, uint64(workers*rounds))
			}
		}(key(byte(i + 1)))
	}
	wg.Wait()

	assert.EqualValues(t, workers*rounds, rt.Accounts().GetSlot())
}

func TestExecute_Validation(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())

	_, err := rt.Execute(context.Background(), &Transaction{})
	assert.ErrorIs(t, err, ErrEmptyTransaction)

	_, err = rt.Execute(context.Background(), &Transaction{
		Instructions: []svm.Instruction{system.Transfer(key(1), key(2), 1)},
	})
	assert.ErrorIs(t, err, ErrMissingSignature)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = rt.Execute(ctx, &Transaction{
		Instructions: []svm.Instruction{system.Transfer(key(1), key(2), 1)},
		Signers:      []types.Pubkey{key(1)},
	})
	assert.ErrorIs(t, err, context.Canceled)

	res, err := rt.Execute(context.Background(), &Transaction{
		Instructions: []svm.Instruction{{ProgramID: key(0x99)}},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, svm.ErrUnknownProgram)
}

func TestExecute_OwnershipRules(t *testing.T) {
	owned, foreign, other := key(1), key(2), key(3)

	for _, tc := range []struct {
		name     string
		writable bool
		run      func(accts []*svm.AccountInfo)
		expected error
	}{
		{
			name:     "read-only data",
			writable: false,
			run:      func(a []*svm.AccountInfo) { a[0].Data[0] = 1 },
			expected: ErrReadonlyModified,
		},
		{
			name:     "foreign data",
			writable: true,
			run:      func(a []*svm.AccountInfo) { a[1].Data = []byte{1} },
			expected: ErrExternalDataModified,
		},
		{
			name:     "foreign lamports",
			writable: true,
			run: func(a []*svm.AccountInfo) {
				a[1].Lamports -= 10
				a[2].Lamports += 10
			},
			expected: ErrExternalLamportSpend,
		},
		{
			name:     "foreign owner",
			writable: true,
			run:      func(a []*svm.AccountInfo) { a[1].Owner = testProgramID },
			expected: ErrIllegalOwnerChange,
		},
		{
			name:     "minted lamports",
			writable: true,
			run:      func(a []*svm.AccountInfo) { a[0].Lamports += 1 },
			expected: ErrUnbalancedInstruction,
		},
		{
			name:     "executable flag",
			writable: true,
			run:      func(a []*svm.AccountInfo) { a[0].Executable = true },
			expected: ErrExecutableModified,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rt := newTestRuntime(t, DefaultConfig())
			require.NoError(t, rt.Accounts().SetAccount(owned, &accounts.Account{
				Lamports: 100,
				Data:     []byte{0, 0},
				Owner:    testProgramID,
			}))
			fund(t, rt, foreign, 100)

			rt.RegisterProgram(testProgramID, "test", programFunc(func(ctx svm.InvokeContext, _ []byte) error {
				tc.run(ctx.Accounts())
				return nil
			}))

			res, err := rt.Execute(context.Background(), &Transaction{
				Instructions: []svm.Instruction{{
					ProgramID: testProgramID,
					Accounts: []svm.AccountMeta{
						{Pubkey: owned, IsWritable: tc.writable},
						{Pubkey: foreign, IsWritable: tc.writable},
						{Pubkey: other, IsWritable: tc.writable},
					},
				}},
			})
			require.NoError(t, err)
			assert.ErrorIs(t, res.Err, tc.expected)
		})
	}
}

func TestExecute_OwnedDataWrite(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	owned := key(1)
	require.NoError(t, rt.Accounts().SetAccount(owned, &accounts.Account{
		Lamports: 100,
		Data:     []byte{0, 0},
		Owner:    testProgramID,
	}))

	rt.RegisterProgram(testProgramID, "test", programFunc(func(ctx svm.InvokeContext, data []byte) error {
		copy(ctx.Accounts()[0].Data, data)
		return nil
	}))

	res, err := rt.Execute(context.Background(), &Transaction{
		Instructions: []svm.Instruction{{
			ProgramID: testProgramID,
			Accounts:  []svm.AccountMeta{{Pubkey: owned, IsWritable: true}},
			Data:      []byte{4, 2},
		}},
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	acct, err := rt.GetAccount(owned)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 2}, acct.Data)
}

func TestInvokeSigned_DerivedSigner(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())

	payer := key(1)
	fund(t, rt, payer, 10_000_000)

	vault, bump, err := pda.FindProgramAddress(testProgramID, []byte("vault"))
	require.NoError(t, err)

	var seeds [][]byte
	rt.RegisterProgram(testProgramID, "test", programFunc(func(ctx svm.InvokeContext, _ []byte) error {
		r, err := ctx.Rent()
		if err != nil {
			return err
		}
		accts := ctx.Accounts()
		create := system.CreateAccount(accts[0].Key, accts[1].Key, r.MinimumBalance(8), 8, testProgramID)
		if err := ctx.InvokeSigned(create, seeds); err != nil {
			return err
		}
		accts[1].Data[0] = 7
		return nil
	}))

	tx := func() *Transaction {
		return &Transaction{
			Instructions: []svm.Instruction{{
				ProgramID: testProgramID,
				Accounts: []svm.AccountMeta{
					{Pubkey: payer, IsSigner: true, IsWritable: true},
					{Pubkey: vault, IsWritable: true},
				},
			}},
			Signers: []types.Pubkey{payer},
		}
	}

	t.Run("no seeds", func(t *testing.T) {
		seeds = nil
		res, err := rt.Execute(context.Background(), tx())
		require.NoError(t, err)
		assert.ErrorIs(t, res.Err, svm.ErrPrivilegeEscalation)
	})

	t.Run("wrong seeds", func(t *testing.T) {
		seeds = [][]byte{[]byte("other"), {bump}}
		res, err := rt.Execute(context.Background(), tx())
		require.NoError(t, err)
		assert.False(t, res.Success)
	})

	t.Run("derived signer", func(t *testing.T) {
		seeds = [][]byte{[]byte("vault"), {bump}}
		res, err := rt.Execute(context.Background(), tx())
		require.NoError(t, err)
		require.True(t, res.Success, res.Error)

		acct, err := rt.GetAccount(vault)
		require.NoError(t, err)
		assert.Equal(t, testProgramID, acct.Owner)
		assert.Equal(t, []byte{7, 0, 0, 0, 0, 0, 0, 0}, acct.Data)
		assert.Equal(t, rent.Default().MinimumBalance(8), acct.Lamports)
		assert.Equal(t, 10_000_000-acct.Lamports, lamports(t, rt, payer))
	})
}

func TestInvokeSigned_WritableEscalation(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())

	payer, to := key(1), key(2)
	fund(t, rt, payer, 1_000)

	rt.RegisterProgram(testProgramID, "test", programFunc(func(ctx svm.InvokeContext, _ []byte) error {
		accts := ctx.Accounts()
		return ctx.InvokeSigned(system.Transfer(accts[0].Key, accts[1].Key, 10))
	}))

	res, err := rt.Execute(context.Background(), &Transaction{
		Instructions: []svm.Instruction{{
			ProgramID: testProgramID,
			Accounts: []svm.AccountMeta{
				{Pubkey: payer, IsSigner: true, IsWritable: true},
				{Pubkey: to},
			},
		}},
		Signers: []types.Pubkey{payer},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, svm.ErrPrivilegeEscalation)
	assert.EqualValues(t, 1_000, lamports(t, rt, payer))
}

func TestInvokeSigned_Depth(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())

	var depth int
	rt.RegisterProgram(testProgramID, "test", programFunc(func(ctx svm.InvokeContext, _ []byte) error {
		depth++
		return ctx.InvokeSigned(svm.Instruction{ProgramID: testProgramID})
	}))

	res, err := rt.Execute(context.Background(), &Transaction{
		Instructions: []svm.Instruction{{ProgramID: testProgramID}},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, svm.ErrCallDepthExceeded)
	assert.Equal(t, MaxInvokeDepth, depth)
}

func TestExecute_RentUnavailable(t *testing.T) {
	rt := New(accounts.NewMemoryDB(), DefaultConfig())

	payer, created := key(1), key(2)
	fund(t, rt, payer, 10_000_000)

	res, err := rt.Execute(context.Background(), &Transaction{
		Instructions: []svm.Instruction{system.CreateAccount(payer, created, 1_000_000, 0, testProgramID)},
		Signers:      []types.Pubkey{payer, created},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, svm.ErrRentUnavailable)
}

func TestExecute_ComputeLimit(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())

	from := key(1)
	fund(t, rt, from, 1_000)

	res, err := rt.Execute(context.Background(), &Transaction{
		Instructions: []svm.Instruction{system.Transfer(from, key(2), 1)},
		Signers:      []types.Pubkey{from},
		ComputeLimit: svm.CUSystemProgramDefault - 1,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, svm.ErrComputeExceeded)
}

func TestExecute_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rt := newTestRuntime(t, Config{Registerer: reg})

	from := key(1)
	fund(t, rt, from, 1_000)

	for i := 0; i < 3; i++ {
		_, err := rt.Execute(context.Background(), &Transaction{
			Instructions: []svm.Instruction{system.Transfer(from, key(2), 100)},
			Signers:      []types.Pubkey{from},
			Nonce:        uint64(i),
		})
		require.NoError(t, err)
	}
	_, err := rt.Execute(context.Background(), &Transaction{
		Instructions: []svm.Instruction{system.Transfer(from, key(2), 10_000)},
		Signers:      []types.Pubkey{from},
	})
	require.NoError(t, err)

	assert.EqualValues(t, 3, testutil.ToFloat64(rt.metrics.transactions.WithLabelValues("success")))
	assert.EqualValues(t, 1, testutil.ToFloat64(rt.metrics.transactions.WithLabelValues("failure")))
	assert.EqualValues(t, 4, testutil.ToFloat64(rt.metrics.instructions.WithLabelValues("system")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 3)
}

func TestExecute_Concurrent(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())

	const payers = 20
	const rounds = 5
	sink := key(0xff)
	for i := 0; i < payers; i++ {
		fund(t, rt, key(byte(i+1)), 1_000)
	}

	var wg sync.WaitGroup
	for i := 0; i < payers; i++ {
		wg.Add(1)
		go func(payer types.Pubkey) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				res, err := rt.Execute(context.Background(), &Transaction{
					Instructions: []svm.Instruction{system.Transfer(payer, sink, 10)},
					Signers:      []types.Pubkey{payer},
					Nonce:        uint64(r),
				})
				assert.NoError(t, err)
				assert.True(t, res.Success)
			}
		}(key(byte(i + 1)))
	}
	wg.Wait()

	assert.EqualValues(t, payers*rounds*10, lamports(t, rt, sink))
	for i := 0; i < payers; i++ {
		assert.EqualValues(t, 1_000-rounds*10, lamports(t, rt, key(byte(i+1))))
	}
	assert.EqualValues(t, payers*rounds, rt.Accounts().GetSlot())
	assert.Zero(t, rt.locks.size())
}

func TestApplyGenesis(t *testing.T) {
	rt := New(accounts.NewMemoryDB(), DefaultConfig())

	g := &Genesis{
		Rent:     rent.Default(),
		Accounts: []GenesisAccount{{Pubkey: key(1), Lamports: 500}},
	}
	require.NoError(t, rt.ApplyGenesis(g))
	assert.ErrorIs(t, rt.ApplyGenesis(g), ErrAlreadyBootstrapped)

	acct, err := rt.GetAccount(types.SysvarRentAddr)
	require.NoError(t, err)
	assert.Equal(t, types.SysvarOwnerAddr, acct.Owner)
	r, err := rent.Unmarshal(acct.Data)
	require.NoError(t, err)
	assert.Equal(t, rent.Default(), r)

	assert.EqualValues(t, 500, lamports(t, rt, key(1)))
}

func TestAirdrop(t *testing.T) {
	rt := New(accounts.NewMemoryDB(), DefaultConfig())

	fund(t, rt, key(1), 10)
	fund(t, rt, key(1), 15)
	assert.EqualValues(t, 25, lamports(t, rt, key(1)))

	assert.ErrorIs(t, rt.Airdrop(context.Background(), key(1), ^uint64(0)), system.ErrLamportOverflow)
}

func TestLockTable(t *testing.T) {
	table := newLockTable()

	release := table.acquire(map[types.Pubkey]bool{key(1): true, key(2): false})
	assert.Equal(t, 2, table.size())

	// Readers of key(2) do not block each other.
	release2 := table.acquire(map[types.Pubkey]bool{key(2): false})
	release2()

	acquired := make(chan struct{})
	go func() {
		r := table.acquire(map[types.Pubkey]bool{key(1): false})
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("reader acquired a write-locked account")
	default:
	}

	release()
	<-acquired
}
