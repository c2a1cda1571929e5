package vesting

import (
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-vesting/internal/types"
	"github.com/fortiblox/x1-vesting/pkg/pda"
)

var (
	configSeed         = []byte("STATE")
	scheduleSeedPrefix = []byte("vesting")
)

// Root is the handle for one deployment of the vesting ledger. It fixes the
// program id and the derived configuration address so callers never pass the
// configuration key around by convention.
type Root struct {
	ProgramID     types.Pubkey
	ConfigAddress types.Pubkey
	ConfigBump    uint8
}

// NewRoot derives the configuration address for programID.
func NewRoot(programID types.Pubkey) (*Root, error) {
	addr, bump, err := GetConfigAddress(programID)
	if err != nil {
		return nil, err
	}
	return &Root{
		ProgramID:     programID,
		ConfigAddress: addr,
		ConfigBump:    bump,
	}, nil
}

// ConfigSignerSeeds returns the seeds the program signs with to create the
// configuration account.
func (r *Root) ConfigSignerSeeds() [][]byte {
	return [][]byte{configSeed, {r.ConfigBump}}
}

// ScheduleAddress returns the derived schedule address for beneficiary.
func (r *Root) ScheduleAddress(beneficiary types.Pubkey) (types.Pubkey, uint8, error) {
	return GetScheduleAddress(r.ProgramID, beneficiary)
}

// GetConfigAddress derives the configuration address from the seed "STATE".
func GetConfigAddress(programID types.Pubkey) (types.Pubkey, uint8, error) {
	addr, bump, err := pda.FindProgramAddress(programID, configSeed)
	if err != nil {
		return types.Pubkey{}, 0, errors.Wrap(err, "derive config address")
	}
	return addr, bump, nil
}

// GetScheduleAddress derives the schedule address for beneficiary from the
// seeds "vesting" and the beneficiary key.
func GetScheduleAddress(programID, beneficiary types.Pubkey) (types.Pubkey, uint8, error) {
	addr, bump, err := pda.FindProgramAddress(programID, scheduleSeedPrefix, beneficiary[:])
	if err != nil {
		return types.Pubkey{}, 0, errors.Wrap(err, "derive schedule address")
	}
	return addr, bump, nil
}

func scheduleSignerSeeds(beneficiary types.Pubkey, bump uint8) [][]byte {
	return [][]byte{scheduleSeedPrefix, beneficiary[:], {bump}}
}
