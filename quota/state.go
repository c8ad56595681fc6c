package quota

import "sync"

// State is the shared record of what the server last said about each
// bucket, plus the process-wide cooldown.
//
// One State belongs to one client and is shared by every request that
// client has in flight. All reads and writes go through its methods;
// snapshots are copied in and out by value, so no caller can observe
// a partially written entry.
//
// Updates are ordered by Snapshot.ObservedAt: a response that completes
// late with an older observation never overwrites a newer one.
//
// Entries are never removed. A stale entry can only cause a wait until
// its own ResetAt, and the next response replaces it.
type State struct {
	mu       sync.RWMutex
	buckets  map[BucketKey]Snapshot
	cooldown *Cooldown
}

func NewState() *State {
	return &State{
		buckets: make(map[BucketKey]Snapshot),
	}
}

// Snapshot returns the last known snapshot for key.
// ok is false when nothing is known, which callers treat as available.
func (s *State) Snapshot(key BucketKey) (snap Snapshot, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok = s.buckets[key]
	return snap, ok
}

// Update stores snap for key and reports whether it was stored.
// Invalid snapshots and snapshots observed before the stored one are dropped.
func (s *State) Update(key BucketKey, snap Snapshot) bool {
	if !snap.Valid() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.buckets[key]; ok && snap.ObservedAt.Before(cur.ObservedAt) {
		return false
	}
	s.buckets[key] = snap
	return true
}

// SetCooldown records a cooldown, with the same ordering rule as Update.
func (s *State) SetCooldown(c Cooldown) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cooldown != nil && c.ObservedAt.Before(s.cooldown.ObservedAt) {
		return false
	}
	s.cooldown = &c
	return true
}

func (s *State) Cooldown() (Cooldown, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cooldown == nil {
		return Cooldown{}, false
	}
	return *s.cooldown, true
}

// Buckets returns a copy of every known snapshot.
func (s *State) Buckets() map[BucketKey]Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[BucketKey]Snapshot, len(s.buckets))
	for k, v := range s.buckets {
		out[k] = v
	}
	return out
}
