// Package types defines the key and digest types shared by the ledger.
//
// Both are fixed 32-byte arrays. Their text form is base58, so addresses
// printed by the CLI, written to the config file and logged by the runtime
// all look the same.
package types

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

const (
	PubkeySize = 32
	HashSize   = 32
)

var (
	// ErrInvalidPubkey is returned when a pubkey does not decode to 32 bytes.
	ErrInvalidPubkey = errors.New("invalid pubkey: must be 32 bytes")

	// ErrInvalidHash is returned when a hash does not decode to 32 bytes.
	ErrInvalidHash = errors.New("invalid hash: must be 32 bytes")
)

// decode32 decodes a base58 string that must carry exactly 32 bytes.
func decode32(s string, sizeErr error) ([32]byte, error) {
	var out [32]byte
	data, err := base58.Decode(s)
	if err != nil {
		return out, fmt.Errorf("base58 decode %q: %w", s, err)
	}
	if len(data) != len(out) {
		return out, sizeErr
	}
	copy(out[:], data)
	return out, nil
}

// Pubkey is an Ed25519 public key or a program derived address.
type Pubkey [PubkeySize]byte

// PubkeyFromBase58 parses a base58-encoded public key.
func PubkeyFromBase58(s string) (Pubkey, error) {
	raw, err := decode32(s, ErrInvalidPubkey)
	return Pubkey(raw), err
}

// PubkeyFromBytes copies b into a Pubkey.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var p Pubkey
	if len(b) != PubkeySize {
		return p, ErrInvalidPubkey
	}
	copy(p[:], b)
	return p, nil
}

// MustPubkeyFromBase58 parses a well-known address and panics if it is malformed.
func MustPubkeyFromBase58(s string) Pubkey {
	p, err := PubkeyFromBase58(s)
	if err != nil {
		panic(fmt.Sprintf("invalid pubkey constant %q: %v", s, err))
	}
	return p
}

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// Compare orders pubkeys by their raw bytes.
func (p Pubkey) Compare(other Pubkey) int {
	return bytes.Compare(p[:], other[:])
}

func (p Pubkey) Bytes() []byte {
	return p[:]
}

// MarshalText implements encoding.TextMarshaler.
func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pubkey) UnmarshalText(text []byte) error {
	parsed, err := PubkeyFromBase58(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Hash is a 32-byte BLAKE3 digest.
type Hash [HashSize]byte

// HashFromBase58 parses a base58-encoded hash.
func HashFromBase58(s string) (Hash, error) {
	raw, err := decode32(s, ErrInvalidHash)
	return Hash(raw), err
}

// ComputeHash computes the BLAKE3 hash of data.
func ComputeHash(data []byte) Hash {
	return blake3.Sum256(data)
}

func (h Hash) String() string {
	return base58.Encode(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromBase58(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
