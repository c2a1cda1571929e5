package accounts

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-vesting/internal/types"
)

func testKey(b byte) types.Pubkey {
	var p types.Pubkey
	for i := range p {
		p[i] = b
	}
	return p
}

func TestAccountSerialization(t *testing.T) {
	account := &Account{
		Lamports:   1_000_000_000,
		Data:       []byte("test data"),
		Owner:      types.SystemProgramAddr,
		Executable: true,
		RentEpoch:  100,
	}

	restored, err := DeserializeAccount(account.Serialize())
	require.NoError(t, err)
	assert.Equal(t, account, restored)
}

func TestDeserializeAccountRejectsMalformed(t *testing.T) {
	_, err := DeserializeAccount(make([]byte, 10))
	assert.ErrorIs(t, err, ErrInvalidData)

	data := (&Account{Lamports: 1, Data: []byte{1, 2, 3}}).Serialize()
	_, err = DeserializeAccount(data[:len(data)-1])
	assert.ErrorIs(t, err, ErrInvalidData)
	_, err = DeserializeAccount(append(data, 0))
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestCloneIsDeep(t *testing.T) {
	a := &Account{Lamports: 5, Data: []byte{1, 2}}
	c := a.Clone()
	c.Data[0] = 9
	assert.Equal(t, byte(1), a.Data[0])
	assert.Nil(t, (*Account)(nil).Clone())
}

// runDBSuite exercises the DB contract shared by every implementation.
func runDBSuite(t *testing.T, db DB) {
	pubkey := testKey(7)
	account := &Account{Lamports: 500, Data: []byte("account data"), Owner: testKey(1)}

	_, err := db.GetAccount(pubkey)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	require.NoError(t, db.SetAccount(pubkey, account))

	exists, err := db.HasAccount(pubkey)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := db.GetAccount(pubkey)
	require.NoError(t, err)
	assert.Equal(t, account.Lamports, got.Lamports)
	assert.True(t, bytes.Equal(account.Data, got.Data))

	// Returned accounts are copies.
	got.Data[0] = 'X'
	again, err := db.GetAccount(pubkey)
	require.NoError(t, err)
	assert.Equal(t, byte('a'), again.Data[0])

	count, err := db.AccountsCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	require.NoError(t, db.SetAccounts([]AccountEntry{
		{Pubkey: testKey(3), Account: &Account{Lamports: 1}},
		{Pubkey: testKey(2), Account: &Account{Lamports: 2}},
		{Pubkey: pubkey, Account: &Account{}},
	}))

	count, err = db.AccountsCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	var order []types.Pubkey
	require.NoError(t, db.IterateAccounts(func(p types.Pubkey, _ *Account) error {
		order = append(order, p)
		return nil
	}))
	assert.Equal(t, []types.Pubkey{testKey(2), testKey(3)}, order)

	require.NoError(t, db.DeleteAccount(testKey(2)))
	exists, err = db.HasAccount(testKey(2))
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, db.SetSlot(100))
	assert.Equal(t, uint64(100), db.GetSlot())
	require.NoError(t, db.Commit())
}

func TestMemoryDB(t *testing.T) {
	db := NewMemoryDB()
	runDBSuite(t, db)
	require.NoError(t, db.Close())

	_, err := db.GetAccount(testKey(1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBadgerDB(t *testing.T) {
	db, err := NewBadgerDB(DefaultBadgerDBConfig(t.TempDir()))
	require.NoError(t, err)
	runDBSuite(t, db)
	require.NoError(t, db.Close())
}

func TestBadgerDBInMemory(t *testing.T) {
	cfg := DefaultBadgerDBConfig("ignored")
	cfg.InMemory = true
	db, err := NewBadgerDB(cfg)
	require.NoError(t, err)
	runDBSuite(t, db)
	require.NoError(t, db.Close())
}

func TestBadgerDBPersistsMetadata(t *testing.T) {
	dir := t.TempDir()

	db, err := NewBadgerDB(DefaultBadgerDBConfig(dir))
	require.NoError(t, err)
	require.NoError(t, db.SetAccount(testKey(4), &Account{Lamports: 10}))
	require.NoError(t, db.SetSlot(42))
	require.NoError(t, db.Close())

	db, err = NewBadgerDB(DefaultBadgerDBConfig(dir))
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, uint64(42), db.GetSlot())
	count, err := db.AccountsCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	acc, err := db.GetAccount(testKey(4))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), acc.Lamports)
}
