package vesting

import (
	"encoding/binary"
	"math"

	"github.com/holiman/uint256"

	"github.com/fortiblox/x1-vesting/internal/types"
)

const (
	// ConfigurationRecordSize is the persisted size of a ConfigurationRecord.
	ConfigurationRecordSize = 32 + // administrator
		32 // mint

	// VestingScheduleSize is the persisted size of a VestingSchedule.
	VestingScheduleSize = 8 + // duration
		8 + // amount
		8 + // cliff
		8 // start_date
)

// ConfigurationRecord is the singleton ledger configuration.
type ConfigurationRecord struct {
	// Administrator may create vesting schedules.
	Administrator types.Pubkey

	// Mint identifies the token this ledger vests.
	Mint types.Pubkey
}

// Marshal encodes the record as administrator (32) + mint (32).
func (c *ConfigurationRecord) Marshal() []byte {
	data := make([]byte, ConfigurationRecordSize)
	copy(data[0:32], c.Administrator[:])
	copy(data[32:64], c.Mint[:])
	return data
}

// Unmarshal decodes a record. The buffer must be exactly
// ConfigurationRecordSize bytes.
func (c *ConfigurationRecord) Unmarshal(data []byte) error {
	if len(data) != ConfigurationRecordSize {
		return ErrInvalidConfigurationData
	}
	copy(c.Administrator[:], data[0:32])
	copy(c.Mint[:], data[32:64])
	return nil
}

// VestingSchedule describes a linear unlock of Amount tokens over Duration
// seconds starting at StartDate, with nothing unlocked before StartDate+Cliff.
//
// A StartDate of zero marks an unused schedule slot.
type VestingSchedule struct {
	Duration  uint64
	Amount    uint64
	Cliff     uint64
	StartDate uint64
}

// Marshal encodes the schedule as duration, amount, cliff, start_date, each
// a little-endian u64.
func (s *VestingSchedule) Marshal() []byte {
	data := make([]byte, VestingScheduleSize)
	binary.LittleEndian.PutUint64(data[0:], s.Duration)
	binary.LittleEndian.PutUint64(data[8:], s.Amount)
	binary.LittleEndian.PutUint64(data[16:], s.Cliff)
	binary.LittleEndian.PutUint64(data[24:], s.StartDate)
	return data
}

// Unmarshal decodes a schedule. The buffer must be exactly
// VestingScheduleSize bytes.
func (s *VestingSchedule) Unmarshal(data []byte) error {
	if len(data) != VestingScheduleSize {
		return ErrInvalidAccountData
	}
	s.Duration = binary.LittleEndian.Uint64(data[0:])
	s.Amount = binary.LittleEndian.Uint64(data[8:])
	s.Cliff = binary.LittleEndian.Uint64(data[16:])
	s.StartDate = binary.LittleEndian.Uint64(data[24:])
	return nil
}

// IsEmpty reports whether the slot is unused.
func (s *VestingSchedule) IsEmpty() bool {
	return s.StartDate == 0
}

// Validate checks the schedule can be stored: a non-zero amount, a start date
// distinct from the empty sentinel, a non-zero duration covering the cliff,
// and an end date that fits in a u64.
func (s *VestingSchedule) Validate() error {
	switch {
	case s.Amount == 0,
		s.StartDate == 0,
		s.Duration == 0,
		s.Cliff > s.Duration,
		s.StartDate > math.MaxUint64-s.Duration:
		return ErrInvalidScheduleParameters
	}
	return nil
}

// CliffEnd returns StartDate+Cliff, saturating at math.MaxUint64.
func (s *VestingSchedule) CliffEnd() uint64 {
	return saturatingAdd(s.StartDate, s.Cliff)
}

// End returns StartDate+Duration, saturating at math.MaxUint64.
func (s *VestingSchedule) End() uint64 {
	return saturatingAdd(s.StartDate, s.Duration)
}

// Unlocked returns how much of Amount has vested at time now (seconds since
// epoch). It is a pure query; nothing is dispensed.
func (s *VestingSchedule) Unlocked(now uint64) uint64 {
	if s.IsEmpty() || now < s.CliffEnd() {
		return 0
	}
	if s.Duration == 0 || now >= s.End() {
		return s.Amount
	}

	// amount * elapsed can exceed 64 bits; the quotient cannot exceed amount.
	elapsed := now - s.StartDate
	v := new(uint256.Int).Mul(uint256.NewInt(s.Amount), uint256.NewInt(elapsed))
	v.Div(v, uint256.NewInt(s.Duration))
	return v.Uint64()
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
