package presence

import "sync"

// Observer is one user viewing an owner's profile through Conn.
type Observer struct {
	UserID string
	Conn   Conn
}

// ObserverIndex maps a profile owner to the observers currently viewing it,
// in insertion order. An owner with no observers has no entry.
type ObserverIndex struct {
	mu     sync.RWMutex
	owners map[string][]Observer
}

func NewObserverIndex() *ObserverIndex {
	return &ObserverIndex{
		owners: make(map[string][]Observer),
	}
}

// AddObserver records observer as viewing owner through c. Self-observation,
// a nil connection, empty ids and an observer already present are no-ops.
// It reports whether an entry was added.
func (x *ObserverIndex) AddObserver(owner, observer string, c Conn) bool {
	if owner == "" || observer == "" || owner == observer || c == nil {
		return false
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for _, o := range x.owners[owner] {
		if o.UserID == observer {
			return false
		}
	}
	x.owners[owner] = append(x.owners[owner], Observer{UserID: observer, Conn: c})
	return true
}

// RemoveObserver drops observer from owner's list, deleting the owner entry
// once it is empty.
func (x *ObserverIndex) RemoveObserver(owner, observer string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.removeLocked(owner, func(o Observer) bool { return o.UserID == observer })
}

// RemoveObserverEverywhere drops observer from every owner's list and
// returns the owners it was removed from. Safe to call repeatedly.
func (x *ObserverIndex) RemoveObserverEverywhere(observer string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	var affected []string
	for owner := range x.owners {
		if x.removeLocked(owner, func(o Observer) bool { return o.UserID == observer }) {
			affected = append(affected, owner)
		}
	}
	return affected
}

// RemoveConn drops every entry that was added through c, regardless of the
// observer id. Used when a superseded connection closes: the newer session's
// entries stay.
func (x *ObserverIndex) RemoveConn(c Conn) []string {
	if c == nil {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	var affected []string
	for owner := range x.owners {
		if x.removeLocked(owner, func(o Observer) bool { return SameConn(o.Conn, c) }) {
			affected = append(affected, owner)
		}
	}
	return affected
}

func (x *ObserverIndex) removeLocked(owner string, match func(Observer) bool) bool {
	list, ok := x.owners[owner]
	if !ok {
		return false
	}
	kept := list[:0:0]
	for _, o := range list {
		if !match(o) {
			kept = append(kept, o)
		}
	}
	if len(kept) == len(list) {
		return false
	}
	if len(kept) == 0 {
		delete(x.owners, owner)
	} else {
		x.owners[owner] = kept
	}
	return true
}

// ListObservers returns a point-in-time copy of owner's observers in
// insertion order.
func (x *ObserverIndex) ListObservers(owner string) []Observer {
	x.mu.RLock()
	defer x.mu.RUnlock()
	list := x.owners[owner]
	if len(list) == 0 {
		return nil
	}
	result := make([]Observer, len(list))
	copy(result, list)
	return result
}

// ObserverIDs returns the ids of owner's observers in insertion order.
func (x *ObserverIndex) ObserverIDs(owner string) []string {
	list := x.ListObservers(owner)
	ids := make([]string, 0, len(list))
	for _, o := range list {
		ids = append(ids, o.UserID)
	}
	return ids
}

func (x *ObserverIndex) OwnerCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.owners)
}

func (x *ObserverIndex) EntryCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	total := 0
	for _, list := range x.owners {
		total += len(list)
	}
	return total
}
