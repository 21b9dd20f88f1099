// Package lockmap provides one lock per inode number without allocating a
// lock per inode.
//
// Inode numbers are spread over a fixed set of shards (inum % NSHARD). Each
// shard keeps state only for inodes that are held or waited on, so an idle
// LockMap costs NSHARD mutexes.
package lockmap

import (
	"sync"

	"github.com/mit-pdos/go-blockfs/common"
)

type lockState struct {
	held    bool
	cond    *sync.Cond
	waiters uint64
}

type lockShard struct {
	mu    *sync.Mutex
	state map[common.Inum]*lockState
}

func mkLockShard() *lockShard {
	return &lockShard{
		mu:    new(sync.Mutex),
		state: make(map[common.Inum]*lockState),
	}
}

func (shard *lockShard) acquire(inum common.Inum) {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	state, ok := shard.state[inum]
	if !ok {
		state = &lockState{cond: sync.NewCond(shard.mu)}
		shard.state[inum] = state
	}
	for state.held {
		state.waiters++
		state.cond.Wait()
		state.waiters--
	}
	state.held = true
}

func (shard *lockShard) tryAcquire(inum common.Inum) bool {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	state, ok := shard.state[inum]
	if ok && state.held {
		return false
	}
	if !ok {
		state = &lockState{cond: sync.NewCond(shard.mu)}
		shard.state[inum] = state
	}
	state.held = true
	return true
}

func (shard *lockShard) release(inum common.Inum) {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	state, ok := shard.state[inum]
	if !ok || !state.held {
		panic("lockmap: release of unheld inode lock")
	}
	state.held = false
	if state.waiters > 0 {
		state.cond.Signal()
	} else {
		delete(shard.state, inum)
	}
}

// live reports how many inodes have lock state in this shard.
func (shard *lockShard) live() int {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	return len(shard.state)
}

const NSHARD uint64 = 43

type LockMap struct {
	shards []*lockShard
}

func MkLockMap() *LockMap {
	shards := make([]*lockShard, NSHARD)
	for i := range shards {
		shards[i] = mkLockShard()
	}
	return &LockMap{shards: shards}
}

func (lmap *LockMap) shard(inum common.Inum) *lockShard {
	return lmap.shards[uint64(inum)%NSHARD]
}

// Acquire blocks until the lock for inum is free and takes it.
func (lmap *LockMap) Acquire(inum common.Inum) {
	lmap.shard(inum).acquire(inum)
}

func (lmap *LockMap) TryAcquire(inum common.Inum) bool {
	return lmap.shard(inum).tryAcquire(inum)
}

// Release drops the lock for inum. Releasing a lock that is not held panics.
func (lmap *LockMap) Release(inum common.Inum) {
	lmap.shard(inum).release(inum)
}
