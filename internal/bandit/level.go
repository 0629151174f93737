package bandit

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Level names, ordered from the root of the hierarchy to the leaves.
const (
	LevelGlobal   = "global"
	LevelSegment  = "segment"
	LevelPlatform = "platform"
	LevelSKU      = "sku"
)

// Level is one tier of the hierarchy. Depth is the distance to the sku
// level: the combined posterior scales a level's counts by (1-w)^Depth.
type Level struct {
	Name          string
	Parent        string
	InheritWeight float64
	Depth         int

	arms armStore
}

// armStore holds the arms of a level keyed by their fully qualified key.
type armStore interface {
	get(key string) (*Arm, bool)
	getOrCreate(key string) *Arm
	observe(key string, reward, maxReward float64) *Arm
	put(key string, a *Arm)
	len() int
	totalPulls() int64
	each(fn func(key string, a *Arm))
}

// mapStore never evicts. Used for global, segment and platform, whose key
// space is bounded by the number of segments and platforms.
type mapStore map[string]*Arm

func (m mapStore) get(key string) (*Arm, bool) {
	a, ok := m[key]
	return a, ok
}

func (m mapStore) getOrCreate(key string) *Arm {
	a, ok := m[key]
	if !ok {
		a = newArm(key)
		m[key] = a
	}
	return a
}

func (m mapStore) observe(key string, reward, maxReward float64) *Arm {
	a := m.getOrCreate(key)
	a.observe(reward, maxReward)
	return a
}

func (m mapStore) put(key string, a *Arm) { m[key] = a }

func (m mapStore) len() int { return len(m) }

func (m mapStore) totalPulls() int64 {
	var n int64
	for _, a := range m {
		n += a.Pulls
	}
	return n
}

func (m mapStore) each(fn func(string, *Arm)) {
	for k, a := range m {
		fn(k, a)
	}
}

// lruStore bounds the sku level. Evicting an sku arm drops only the most
// specific posterior; its ancestors keep the mass it contributed.
type lruStore struct {
	cache   *lru.Cache[string, *Arm]
	pulls   int64
	evicted int64
}

func newLRUStore(size int) (*lruStore, error) {
	s := &lruStore{}
	c, err := lru.NewWithEvict[string, *Arm](size, func(_ string, a *Arm) {
		s.pulls -= a.Pulls
		s.evicted++
	})
	if err != nil {
		return nil, err
	}
	s.cache = c
	return s, nil
}

func (s *lruStore) get(key string) (*Arm, bool) {
	return s.cache.Get(key)
}

func (s *lruStore) getOrCreate(key string) *Arm {
	if a, ok := s.cache.Get(key); ok {
		return a
	}
	a := newArm(key)
	s.cache.Add(key, a)
	return a
}

func (s *lruStore) observe(key string, reward, maxReward float64) *Arm {
	a := s.getOrCreate(key)
	a.observe(reward, maxReward)
	s.pulls++
	return a
}

func (s *lruStore) put(key string, a *Arm) {
	if old, ok := s.cache.Peek(key); ok {
		s.pulls -= old.Pulls
	}
	s.cache.Add(key, a)
	s.pulls += a.Pulls
}

func (s *lruStore) len() int { return s.cache.Len() }

func (s *lruStore) totalPulls() int64 { return s.pulls }

func (s *lruStore) each(fn func(string, *Arm)) {
	for _, k := range s.cache.Keys() {
		if a, ok := s.cache.Peek(k); ok {
			fn(k, a)
		}
	}
}
