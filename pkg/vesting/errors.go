package vesting

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error is a vesting program error code. Codes start at the custom program
// error range so they never collide with runtime errors.
type Error uint32

const (
	// The instruction bytes do not match any known layout.
	ErrMalformedInstruction Error = iota + 0x1770

	// A required signer is missing or is not the configured administrator.
	ErrUnauthorized

	// The configuration account is not the derived configuration address.
	ErrInvalidConfigurationAddress

	// The configuration account does not hold a configuration record.
	ErrInvalidConfigurationData

	// The schedule account holds bytes that are not a vesting schedule.
	ErrInvalidAccountData

	// The configuration account has already been created.
	ErrAlreadyInitialized

	// The schedule slot already holds a schedule.
	ErrScheduleAlreadyExists

	// The System Program refused to create the account.
	ErrAccountCreationFailed

	// The rent sysvar could not be read.
	ErrRentLookupFailed

	// Fewer accounts were supplied than the instruction requires.
	ErrNotEnoughAccountKeys

	// The schedule account is not the address derived for the beneficiary.
	ErrInvalidScheduleAddress

	// The schedule arguments are out of range.
	ErrInvalidScheduleParameters

	// The instruction was routed to a different program.
	ErrIncorrectProgramID
)

var errorNames = map[Error]string{
	ErrMalformedInstruction:        "malformed instruction",
	ErrUnauthorized:                "unauthorized",
	ErrInvalidConfigurationAddress: "invalid configuration address",
	ErrInvalidConfigurationData:    "invalid configuration data",
	ErrInvalidAccountData:          "invalid account data",
	ErrAlreadyInitialized:          "already initialized",
	ErrScheduleAlreadyExists:       "schedule already exists",
	ErrAccountCreationFailed:       "account creation failed",
	ErrRentLookupFailed:            "rent lookup failed",
	ErrNotEnoughAccountKeys:        "not enough account keys",
	ErrInvalidScheduleAddress:      "invalid schedule address",
	ErrInvalidScheduleParameters:   "invalid schedule parameters",
	ErrIncorrectProgramID:          "incorrect program id",
}

func (e Error) Error() string {
	if name, ok := errorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("vesting error 0x%x", uint32(e))
}

// Code extracts the program error code from err. ok is false if err does not
// carry a vesting error.
func Code(err error) (code uint32, ok bool) {
	var e Error
	if errors.As(err, &e) {
		return uint32(e), true
	}
	return 0, false
}

// wrapCause attaches cause to the program error e, keeping e matchable with
// errors.Is.
func wrapCause(e Error, cause error, msg string) error {
	return errors.Wrapf(e, "%s: %v", msg, cause)
}
