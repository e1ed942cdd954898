package util

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrDeadlock = errors.New("util: deadlock detected")
)

// LockTable hands out exclusive locks on uids to xids and maintains the
// wait-for graph between them. A lock request that would complete a cycle in
// the graph fails immediately with ErrDeadlock; the requester is expected to
// abort itself.
type LockTable struct {
	mutex      sync.Mutex
	held       map[uint64][]uint64       // uids held by an xid
	owner      map[uint64]uint64         // xid holding a uid
	queues     map[uint64][]uint64       // xids waiting on a uid, FIFO
	waitingFor map[uint64]uint64         // uid an xid is waiting on
	gates      map[uint64]chan struct{}  // gate a waiting xid blocks on
}

func (lt *LockTable) init() {
	if lt.held == nil {
		lt.held = map[uint64][]uint64{}
		lt.owner = map[uint64]uint64{}
		lt.queues = map[uint64][]uint64{}
		lt.waitingFor = map[uint64]uint64{}
		lt.gates = map[uint64]chan struct{}{}
	}
}

// Acquire requests the lock on uid for xid. If xid already holds uid, or uid is
// free, it returns a nil gate: the lock is held. Otherwise xid is queued and a
// gate is returned; the caller must block receiving from the gate, which opens
// once ownership has been transferred to xid. If waiting would create a cycle
// in the wait-for graph, Acquire undoes the wait and fails with ErrDeadlock.
func (lt *LockTable) Acquire(xid, uid uint64) (<-chan struct{}, error) {
	lt.mutex.Lock()
	defer lt.mutex.Unlock()

	lt.init()

	if owner, ok := lt.owner[uid]; ok && owner == xid {
		return nil, nil
	}

	if _, ok := lt.owner[uid]; !ok {
		lt.owner[uid] = xid
		lt.held[xid] = append(lt.held[xid], uid)
		return nil, nil
	}

	lt.waitingFor[xid] = uid
	lt.queues[uid] = append(lt.queues[uid], xid)
	if lt.hasCycle() {
		delete(lt.waitingFor, xid)
		q := lt.queues[uid]
		q = q[:len(q)-1]
		if len(q) == 0 {
			delete(lt.queues, uid)
		} else {
			lt.queues[uid] = q
		}
		return nil, ErrDeadlock
	}

	gate := make(chan struct{}, 1)
	lt.gates[xid] = gate
	return gate, nil
}

// ReleaseAll releases every lock held by xid and removes it from the wait-for
// graph. Each released uid is handed to the first xid still waiting on it.
func (lt *LockTable) ReleaseAll(xid uint64) {
	lt.mutex.Lock()
	defer lt.mutex.Unlock()

	lt.init()

	for _, uid := range lt.held[xid] {
		lt.handOff(uid)
	}
	delete(lt.held, xid)
	delete(lt.waitingFor, xid)
	delete(lt.gates, xid)
}

// handOff transfers ownership of uid to the first waiter that is still
// registered, opening its gate, or frees uid if no waiters remain.
func (lt *LockTable) handOff(uid uint64) {
	delete(lt.owner, uid)

	q := lt.queues[uid]
	for len(q) > 0 {
		xid := q[0]
		q = q[1:]

		gate, ok := lt.gates[xid]
		if !ok {
			// The waiter went away; skip it.
			continue
		}

		lt.owner[uid] = xid
		lt.held[xid] = append(lt.held[xid], uid)
		delete(lt.gates, xid)
		delete(lt.waitingFor, xid)
		gate <- struct{}{}
		break
	}

	if len(q) == 0 {
		delete(lt.queues, uid)
	} else {
		lt.queues[uid] = q
	}
}

// hasCycle runs a stamped depth-first search over the wait-for graph: edges go
// from a waiting xid to the xid owning the uid it waits on. Nodes visited in
// the current pass share a stamp; meeting one again closes a cycle. The graph
// need not be connected, so every holder is tried as a root.
func (lt *LockTable) hasCycle() bool {
	stamps := map[uint64]int{}
	stamp := 1
	for xid := range lt.held {
		if stamps[xid] > 0 {
			continue
		}
		stamp += 1
		if lt.dfs(xid, stamp, stamps) {
			return true
		}
	}
	for xid := range lt.waitingFor {
		if stamps[xid] > 0 {
			continue
		}
		stamp += 1
		if lt.dfs(xid, stamp, stamps) {
			return true
		}
	}
	return false
}

func (lt *LockTable) dfs(xid uint64, stamp int, stamps map[uint64]int) bool {
	s, ok := stamps[xid]
	if ok && s == stamp {
		return true
	}
	if ok && s < stamp {
		return false
	}
	stamps[xid] = stamp

	uid, ok := lt.waitingFor[xid]
	if !ok {
		return false
	}
	owner, ok := lt.owner[uid]
	if !ok {
		return false
	}
	return lt.dfs(owner, stamp, stamps)
}
