package vesting

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-vesting/internal/types"
)

func TestConfigurationRecord_Codec(t *testing.T) {
	record := ConfigurationRecord{
		Administrator: types.Pubkey(types.ComputeHash([]byte("admin"))),
		Mint:          types.Pubkey(types.ComputeHash([]byte("mint"))),
	}

	data := record.Marshal()
	require.Len(t, data, ConfigurationRecordSize)
	assert.Equal(t, record.Administrator[:], data[:32])
	assert.Equal(t, record.Mint[:], data[32:])

	var decoded ConfigurationRecord
	require.NoError(t, decoded.Unmarshal(data))
	assert.Equal(t, record, decoded)

	for _, size := range []int{0, 32, 63, 65} {
		assert.ErrorIs(t, decoded.Unmarshal(make([]byte, size)), ErrInvalidConfigurationData)
	}
}

func TestVestingSchedule_Codec(t *testing.T) {
	schedule := VestingSchedule{
		Duration:  86400,
		Amount:    1000,
		Cliff:     3600,
		StartDate: 1_234_567_890,
	}

	data := schedule.Marshal()
	require.Len(t, data, VestingScheduleSize)
	assert.Equal(t, []byte{0x80, 0x51, 0x01, 0, 0, 0, 0, 0}, data[0:8])
	assert.Equal(t, []byte{0xe8, 0x03, 0, 0, 0, 0, 0, 0}, data[8:16])
	assert.Equal(t, []byte{0x10, 0x0e, 0, 0, 0, 0, 0, 0}, data[16:24])
	assert.Equal(t, []byte{0xd2, 0x02, 0x96, 0x49, 0, 0, 0, 0}, data[24:32])

	var decoded VestingSchedule
	require.NoError(t, decoded.Unmarshal(data))
	assert.Equal(t, schedule, decoded)

	for _, size := range []int{0, 31, 33, 64} {
		assert.ErrorIs(t, decoded.Unmarshal(make([]byte, size)), ErrInvalidAccountData)
	}

	var empty VestingSchedule
	require.NoError(t, empty.Unmarshal(make([]byte, VestingScheduleSize)))
	assert.True(t, empty.IsEmpty())
}

func TestVestingSchedule_Validate(t *testing.T) {
	for _, tc := range []struct {
		name     string
		schedule VestingSchedule
		valid    bool
	}{
		{"typical", VestingSchedule{Duration: 86400, Amount: 1000, Cliff: 3600, StartDate: 1_234_567_890}, true},
		{"no cliff", VestingSchedule{Duration: 10, Amount: 1, StartDate: 1}, true},
		{"cliff equals duration", VestingSchedule{Duration: 10, Amount: 1, Cliff: 10, StartDate: 1}, true},
		{"end at max", VestingSchedule{Duration: 1, Amount: 1, StartDate: math.MaxUint64 - 1}, true},
		{"zero amount", VestingSchedule{Duration: 10, StartDate: 1}, false},
		{"zero start", VestingSchedule{Duration: 10, Amount: 1}, false},
		{"zero duration", VestingSchedule{Amount: 1, StartDate: 1}, false},
		{"cliff past end", VestingSchedule{Duration: 10, Amount: 1, Cliff: 11, StartDate: 1}, false},
		{"end overflows", VestingSchedule{Duration: 2, Amount: 1, StartDate: math.MaxUint64 - 1}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.schedule.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidScheduleParameters)
			}
		})
	}
}

func TestVestingSchedule_Unlocked(t *testing.T) {
	schedule := VestingSchedule{
		Duration:  100,
		Amount:    1000,
		Cliff:     25,
		StartDate: 1000,
	}

	for _, tc := range []struct {
		now      uint64
		expected uint64
	}{
		{0, 0},
		{999, 0},
		{1000, 0},
		{1024, 0},
		{1025, 250},
		{1050, 500},
		{1099, 990},
		{1100, 1000},
		{math.MaxUint64, 1000},
	} {
		assert.Equal(t, tc.expected, schedule.Unlocked(tc.now), "now=%d", tc.now)
	}

	// amount * elapsed does not fit in 64 bits.
	large := VestingSchedule{
		Duration:  1 << 40,
		Amount:    math.MaxUint64,
		StartDate: 1,
	}
	assert.Equal(t, uint64(math.MaxUint64/2), large.Unlocked(1+(1<<39)))

	// Saturating end: nothing overflows past the last representable second.
	saturated := VestingSchedule{
		Duration:  math.MaxUint64,
		Amount:    100,
		Cliff:     math.MaxUint64,
		StartDate: 10,
	}
	assert.EqualValues(t, 0, saturated.Unlocked(math.MaxUint64-1))
	assert.EqualValues(t, 100, saturated.Unlocked(math.MaxUint64))

	var empty VestingSchedule
	assert.Zero(t, empty.Unlocked(math.MaxUint64))
}
