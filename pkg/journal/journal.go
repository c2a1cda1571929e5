// Package journal records executed transactions in a BoltDB file.
//
// Every transaction the runtime finishes, successful or not, is appended as
// an Entry with a monotonically increasing sequence number. Entries are
// indexed by transaction id and by each account the transaction modified.
package journal

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/x1-vesting/internal/types"
)

var (
	// ErrEntryNotFound is returned when an entry doesn't exist.
	ErrEntryNotFound = errors.New("journal entry not found")

	// ErrClosed is returned when operating on a closed journal.
	ErrClosed = errors.New("journal closed")
)

// Bucket names for BoltDB.
var (
	// bucketEntries stores entries keyed by sequence number.
	bucketEntries = []byte("entries")

	// bucketByID indexes sequence numbers by transaction id.
	bucketByID = []byte("by_id")

	// bucketByAccount indexes sequence numbers by account+sequence.
	bucketByAccount = []byte("by_account")
)

// Config holds journal configuration options.
type Config struct {
	// Path is the journal database file.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultConfig returns the default journal configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path: path,
	}
}

// Entry is one executed transaction.
type Entry struct {
	Seq              uint64
	ID               types.Hash
	Slot             uint64
	Success          bool
	Error            string
	Logs             []string
	ComputeUnitsUsed uint64
	ModifiedAccounts []types.Pubkey
	DeltaHash        types.Hash
	Timestamp        time.Time
}

// Journal is a BoltDB backed transaction log.
type Journal struct {
	db *bolt.DB

	mu     sync.RWMutex
	closed bool
}

// Open creates or opens a journal.
func Open(config Config) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}
	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	j := &Journal{db: db}
	if !config.ReadOnly {
		if err := j.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}
	return j, nil
}

func (j *Journal) initBuckets() error {
	return j.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketByID, bucketByAccount} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Append stores entry, assigning and returning its sequence number.
func (j *Journal) Append(entry *Entry) (uint64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return 0, ErrClosed
	}

	var seq uint64
	err := j.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		next, err := entries.NextSequence()
		if err != nil {
			return err
		}
		seq = next
		entry.Seq = seq

		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
			return fmt.Errorf("encode entry: %w", err)
		}

		key := encodeSeq(seq)
		if err := entries.Put(key, buf.Bytes()); err != nil {
			return err
		}
		if err := tx.Bucket(bucketByID).Put(entry.ID[:], key); err != nil {
			return err
		}

		byAccount := tx.Bucket(bucketByAccount)
		for _, pubkey := range entry.ModifiedAccounts {
			if err := byAccount.Put(accountKey(pubkey, seq), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Get returns the entry with sequence number seq.
func (j *Journal) Get(seq uint64) (*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}

	var entry *Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		var err error
		entry, err = getEntry(tx, encodeSeq(seq))
		return err
	})
	return entry, err
}

// GetByID returns the most recent entry for transaction id.
func (j *Journal) GetByID(id types.Hash) (*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}

	var entry *Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		ids := tx.Bucket(bucketByID)
		if ids == nil {
			return ErrEntryNotFound
		}
		key := ids.Get(id[:])
		if key == nil {
			return ErrEntryNotFound
		}
		var err error
		entry, err = getEntry(tx, key)
		return err
	})
	return entry, err
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(limit int) ([]*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}

	var out []*Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			entry, err := decodeEntry(v)
			if err != nil {
				return err
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

// ForAccount returns up to limit entries that modified pubkey, newest first.
func (j *Journal) ForAccount(pubkey types.Pubkey, limit int) ([]*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}

	var out []*Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketByAccount)
		if b == nil {
			return nil
		}
		c := b.Cursor()

		// Seek past the last key for pubkey, then walk backwards.
		k, _ := c.Seek(accountKey(pubkey, ^uint64(0)))
		if k == nil {
			k, _ = c.Last()
		} else if !bytes.Equal(k, accountKey(pubkey, ^uint64(0))) {
			k, _ = c.Prev()
		}

		for ; k != nil && len(out) < limit; k, _ = c.Prev() {
			if !bytes.HasPrefix(k, pubkey[:]) {
				break
			}
			entry, err := getEntry(tx, k[32:])
			if err != nil {
				return err
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

// Count returns the number of stored entries.
func (j *Journal) Count() (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return 0, ErrClosed
	}

	var n int
	err := j.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketEntries); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// Sync forces an fsync of the database file.
func (j *Journal) Sync() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}
	return j.db.Sync()
}

// Close closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

func getEntry(tx *bolt.Tx, key []byte) (*Entry, error) {
	b := tx.Bucket(bucketEntries)
	if b == nil {
		return nil, ErrEntryNotFound
	}
	data := b.Get(key)
	if data == nil {
		return nil, ErrEntryNotFound
	}
	return decodeEntry(data)
}

func decodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}

// encodeSeq encodes a sequence number as a big-endian key so cursor order
// matches numeric order.
func encodeSeq(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func accountKey(pubkey types.Pubkey, seq uint64) []byte {
	key := make([]byte, 40)
	copy(key, pubkey[:])
	binary.BigEndian.PutUint64(key[32:], seq)
	return key
}
