package accounts

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-vesting/internal/types"
)

// Snapshot file format version.
const snapshotVersion uint32 = 1

// maxAccountSerializedSize bounds a single snapshot record.
const maxAccountSerializedSize = MaxAccountDataSize + 100

var snapshotMagic = []byte{'X', '1', 'V', 'S'}

// SnapshotHeader contains metadata about a snapshot.
type SnapshotHeader struct {
	Version       uint32
	Slot          uint64
	AccountsCount uint64
	AccountsHash  types.Hash
}

const snapshotHeaderSize = 4 + 4 + 8 + 8 + types.HashSize

func (h *SnapshotHeader) marshal() []byte {
	buf := make([]byte, snapshotHeaderSize)
	copy(buf, snapshotMagic)
	binary.LittleEndian.PutUint32(buf[4:], h.Version)
	binary.LittleEndian.PutUint64(buf[8:], h.Slot)
	binary.LittleEndian.PutUint64(buf[16:], h.AccountsCount)
	copy(buf[24:], h.AccountsHash[:])
	return buf
}

func (h *SnapshotHeader) unmarshal(buf []byte) error {
	if string(buf[:4]) != string(snapshotMagic) {
		return fmt.Errorf("invalid snapshot magic: %q", buf[:4])
	}
	h.Version = binary.LittleEndian.Uint32(buf[4:])
	if h.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %d", h.Version)
	}
	h.Slot = binary.LittleEndian.Uint64(buf[8:])
	h.AccountsCount = binary.LittleEndian.Uint64(buf[16:])
	copy(h.AccountsHash[:], buf[24:])
	return nil
}

// WriteSnapshot streams every account of db to w.
//
// Format:
//   - Header (56 bytes, uncompressed): magic "X1VS", version, slot,
//     accounts count, accounts hash
//   - zstd stream of records: pubkey (32) + size (4) + serialized account
func WriteSnapshot(db DB, w io.Writer) (*SnapshotHeader, error) {
	hash, err := ComputeAccountsHash(db)
	if err != nil {
		return nil, errors.Wrap(err, "compute accounts hash")
	}
	count, err := db.AccountsCount()
	if err != nil {
		return nil, err
	}

	header := &SnapshotHeader{
		Version:       snapshotVersion,
		Slot:          db.GetSlot(),
		AccountsCount: count,
		AccountsHash:  hash,
	}
	if _, err := w.Write(header.marshal()); err != nil {
		return nil, errors.Wrap(err, "write header")
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, errors.Wrap(err, "init zstd writer")
	}
	bw := bufio.NewWriter(enc)

	var written uint64
	err = db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		data := account.Serialize()
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(data)))
		if _, err := bw.Write(pubkey[:]); err != nil {
			return err
		}
		if _, err := bw.Write(size[:]); err != nil {
			return err
		}
		if _, err := bw.Write(data); err != nil {
			return err
		}
		written++
		return nil
	})
	if err != nil {
		enc.Close()
		return nil, errors.Wrap(err, "write accounts")
	}
	if written != count {
		enc.Close()
		return nil, fmt.Errorf("accounts changed during snapshot: counted %d, wrote %d", count, written)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "close zstd writer")
	}
	return header, nil
}

// ReadSnapshot loads every account in r into db and verifies the accounts
// hash recorded in the header against the loaded state.
func ReadSnapshot(r io.Reader, db DB) (*SnapshotHeader, error) {
	buf := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	header := &SnapshotHeader{}
	if err := header.unmarshal(buf); err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "init zstd reader")
	}
	defer dec.Close()
	br := bufio.NewReader(dec)

	batch := make([]AccountEntry, 0, header.AccountsCount)
	for i := uint64(0); i < header.AccountsCount; i++ {
		var pubkey types.Pubkey
		if _, err := io.ReadFull(br, pubkey[:]); err != nil {
			return nil, errors.Wrap(err, "read pubkey")
		}
		var size [4]byte
		if _, err := io.ReadFull(br, size[:]); err != nil {
			return nil, errors.Wrap(err, "read size")
		}
		n := binary.LittleEndian.Uint32(size[:])
		if n > maxAccountSerializedSize {
			return nil, fmt.Errorf("account size %d exceeds maximum %d", n, maxAccountSerializedSize)
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(br, data); err != nil {
			return nil, errors.Wrap(err, "read account data")
		}
		account, err := DeserializeAccount(data)
		if err != nil {
			return nil, errors.Wrapf(err, "deserialize account %s", pubkey)
		}
		batch = append(batch, AccountEntry{Pubkey: pubkey, Account: account})
	}

	if got := ComputeMerkleRoot(hashEntries(batch)); got != header.AccountsHash {
		return nil, fmt.Errorf("snapshot accounts hash mismatch: header %s, computed %s", header.AccountsHash, got)
	}

	if err := db.SetAccounts(batch); err != nil {
		return nil, errors.Wrap(err, "store accounts")
	}
	if err := db.SetSlot(header.Slot); err != nil {
		return nil, err
	}
	return header, db.Commit()
}

func hashEntries(entries []AccountEntry) []types.Hash {
	hashes := make([]types.Hash, len(entries))
	for i, e := range entries {
		hashes[i] = ComputeAccountHash(e.Pubkey, e.Account)
	}
	return hashes
}

// CreateSnapshot writes a snapshot of db to path.
func CreateSnapshot(db DB, path string) (*SnapshotHeader, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "create snapshot directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create snapshot file")
	}
	header, err := WriteSnapshot(db, f)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return header, f.Close()
}

// LoadSnapshot restores the snapshot at path into db.
func LoadSnapshot(path string, db DB) (*SnapshotHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, errors.Wrap(err, "open snapshot")
	}
	defer f.Close()
	return ReadSnapshot(f, db)
}
