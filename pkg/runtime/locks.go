package runtime

import (
	"sync"

	"github.com/fortiblox/x1-vesting/internal/types"
	"github.com/fortiblox/x1-vesting/pkg/accounts"
)

// lockTable hands out per-account read/write locks. Entries are reference
// counted and dropped once no transaction holds them.
type lockTable struct {
	mu    sync.Mutex
	locks map[types.Pubkey]*accountLock
}

type accountLock struct {
	sync.RWMutex
	refs int
}

type lockRequest struct {
	key      types.Pubkey
	writable bool
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[types.Pubkey]*accountLock)}
}

// acquire locks every key in sorted order and returns the matching release
// function. Acquiring in a global order keeps two transactions from
// deadlocking on each other.
func (t *lockTable) acquire(reqs map[types.Pubkey]bool) (release func()) {
	keys := make([]types.Pubkey, 0, len(reqs))
	for key := range reqs {
		keys = append(keys, key)
	}
	accounts.SortPubkeys(keys)

	ordered := make([]lockRequest, len(keys))
	held := make([]*accountLock, len(keys))

	t.mu.Lock()
	for i, key := range keys {
		l, ok := t.locks[key]
		if !ok {
			l = &accountLock{}
			t.locks[key] = l
		}
		l.refs++
		ordered[i] = lockRequest{key: key, writable: reqs[key]}
		held[i] = l
	}
	t.mu.Unlock()

	for i, req := range ordered {
		if req.writable {
			held[i].Lock()
		} else {
			held[i].RLock()
		}
	}

	return func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			if ordered[i].writable {
				held[i].Unlock()
			} else {
				held[i].RUnlock()
			}
		}

		t.mu.Lock()
		for i, req := range ordered {
			held[i].refs--
			if held[i].refs == 0 {
				delete(t.locks, req.key)
			}
		}
		t.mu.Unlock()
	}
}

// size returns the number of accounts with outstanding lock references.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
