// Package pda derives program addresses.
//
// A program derived address (PDA) is sha256(seeds || program_id ||
// "ProgramDerivedAddress") with the additional requirement that the result is
// not a valid ed25519 point, so no private key can ever sign for it. The only
// way to authorize a write to a PDA is for the owning program to present the
// seeds (including the bump) to the runtime.
package pda

import (
	"crypto/sha256"
	"math"

	"github.com/jdgcs/ed25519/edwards25519"
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-vesting/internal/types"
)

// PDA constants.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

var pdaMarker = []byte("ProgramDerivedAddress")

// PDA errors.
var (
	ErrMaxSeedsExceeded      = errors.New("max seeds exceeded")
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")
	ErrInvalidPublicKey      = errors.New("invalid seeds: derived address is on curve")
	ErrNoViableBump          = errors.New("unable to find a viable program address bump seed")
	ErrAddressMismatch       = errors.New("seeds do not derive the expected address")
)

// CreateProgramAddress derives a program address from seeds and a program ID.
// Returns ErrInvalidPublicKey if the result lies on the ed25519 curve.
func CreateProgramAddress(programID types.Pubkey, seeds ...[]byte) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, ErrMaxSeedsExceeded
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return types.Pubkey{}, ErrMaxSeedLengthExceeded
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(pdaMarker)

	var out [32]byte
	copy(out[:], h.Sum(nil))

	// Reject the hash if it decompresses to an EdwardsPoint.
	var point edwards25519.ExtendedGroupElement
	if point.FromBytes(&out) {
		return types.Pubkey{}, ErrInvalidPublicKey
	}

	return types.Pubkey(out), nil
}

// FindProgramAddress finds a valid PDA by iterating bump seeds from 255 down
// to 0, appending the bump as the final seed.
func FindProgramAddress(programID types.Pubkey, seeds ...[]byte) (types.Pubkey, uint8, error) {
	if len(seeds) > MaxSeeds-1 {
		return types.Pubkey{}, 0, ErrMaxSeedsExceeded
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := math.MaxUint8; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}

		addr, err := CreateProgramAddress(programID, withBump...)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if err != ErrInvalidPublicKey {
			return types.Pubkey{}, 0, err
		}
	}

	return types.Pubkey{}, 0, ErrNoViableBump
}

// VerifyProgramAddress checks that seeds (bump included) derive address under
// programID.
func VerifyProgramAddress(programID, address types.Pubkey, seeds ...[]byte) error {
	derived, err := CreateProgramAddress(programID, seeds...)
	if err != nil {
		return err
	}
	if derived != address {
		return ErrAddressMismatch
	}
	return nil
}

// IsOnCurve reports whether key is a valid ed25519 point, i.e. whether a
// private key could sign for it.
func IsOnCurve(key types.Pubkey) bool {
	var b [32]byte = key
	var point edwards25519.ExtendedGroupElement
	return point.FromBytes(&b)
}
