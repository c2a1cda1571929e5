// Package rent implements the storage economics oracle.
//
// Accounts pay for the bytes they occupy. An account whose balance covers
// ExemptionThreshold years of rent for its size is exempt from collection;
// every account created by the ledger is funded to at least that minimum.
package rent

import (
	"encoding/binary"
	"errors"
	"math"
)

// AccountStorageOverhead is the per-account byte overhead charged on top of
// the data length.
const AccountStorageOverhead = 128

// Default rent parameters.
const (
	DefaultLamportsPerByteYear = uint64(3480)
	DefaultExemptionThreshold  = 2.0
	DefaultBurnPercent         = uint8(50)
)

// SysvarSize is the encoded size of the Rent sysvar account data.
const SysvarSize = 8 + 8 + 1

// ErrInvalidSysvar is returned when the rent sysvar bytes are malformed.
var ErrInvalidSysvar = errors.New("invalid rent sysvar data")

// Rent holds the storage economics parameters.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  float64
	BurnPercent         uint8
}

// Default returns the default rent parameters.
func Default() Rent {
	return Rent{
		LamportsPerByteYear: DefaultLamportsPerByteYear,
		ExemptionThreshold:  DefaultExemptionThreshold,
		BurnPercent:         DefaultBurnPercent,
	}
}

// MinimumBalance returns the lamports an account holding dataLen bytes needs
// to be rent exempt.
func (r Rent) MinimumBalance(dataLen uint64) uint64 {
	bytes := AccountStorageOverhead + dataLen
	return uint64(float64(bytes*r.LamportsPerByteYear) * r.ExemptionThreshold)
}

// IsExempt reports whether balance covers the minimum for dataLen bytes.
func (r Rent) IsExempt(balance, dataLen uint64) bool {
	return balance >= r.MinimumBalance(dataLen)
}

// Marshal encodes the sysvar layout:
// lamports_per_byte_year (8) + exemption_threshold f64 (8) + burn_percent (1)
func (r Rent) Marshal() []byte {
	buf := make([]byte, SysvarSize)
	binary.LittleEndian.PutUint64(buf[0:], r.LamportsPerByteYear)
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(r.ExemptionThreshold))
	buf[16] = r.BurnPercent
	return buf
}

// Unmarshal decodes the sysvar layout.
func Unmarshal(data []byte) (Rent, error) {
	if len(data) != SysvarSize {
		return Rent{}, ErrInvalidSysvar
	}
	r := Rent{
		LamportsPerByteYear: binary.LittleEndian.Uint64(data[0:]),
		ExemptionThreshold:  math.Float64frombits(binary.LittleEndian.Uint64(data[8:])),
		BurnPercent:         data[16],
	}
	if math.IsNaN(r.ExemptionThreshold) || math.IsInf(r.ExemptionThreshold, 0) || r.ExemptionThreshold < 0 {
		return Rent{}, ErrInvalidSysvar
	}
	if r.BurnPercent > 100 {
		return Rent{}, ErrInvalidSysvar
	}
	return r, nil
}
