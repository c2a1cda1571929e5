package runtime

import (
	"errors"
	"fmt"

	"github.com/fortiblox/x1-vesting/internal/types"
	"github.com/fortiblox/x1-vesting/pkg/accounts"
	"github.com/fortiblox/x1-vesting/pkg/rent"
)

// ErrAlreadyBootstrapped is returned when genesis is applied to a ledger that
// already has a rent sysvar.
var ErrAlreadyBootstrapped = errors.New("ledger already bootstrapped")

// GenesisAccount is a funded System Program account created at genesis.
type GenesisAccount struct {
	Pubkey   types.Pubkey
	Lamports uint64
}

// Genesis describes the initial ledger state.
type Genesis struct {
	Rent     rent.Rent
	Accounts []GenesisAccount
}

// ApplyGenesis writes the rent sysvar and the genesis accounts in one batch.
func (r *Runtime) ApplyGenesis(g *Genesis) error {
	release := r.locks.acquire(map[types.Pubkey]bool{types.SysvarRentAddr: true})
	defer release()

	exists, err := r.db.HasAccount(types.SysvarRentAddr)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyBootstrapped
	}

	entries := []accounts.AccountEntry{{
		Pubkey: types.SysvarRentAddr,
		Account: &accounts.Account{
			Lamports: g.Rent.MinimumBalance(rent.SysvarSize),
			Data:     g.Rent.Marshal(),
			Owner:    types.SysvarOwnerAddr,
		},
	}}
	for _, a := range g.Accounts {
		entries = append(entries, accounts.AccountEntry{
			Pubkey: a.Pubkey,
			Account: &accounts.Account{
				Lamports: a.Lamports,
				Owner:    types.SystemProgramAddr,
			},
		})
	}

	if err := r.db.SetAccounts(entries); err != nil {
		return fmt.Errorf("write genesis accounts: %w", err)
	}
	if err := r.db.Commit(); err != nil {
		return fmt.Errorf("commit genesis: %w", err)
	}

	r.log.WithField("accounts", len(g.Accounts)).Info("genesis applied")
	return nil
}
