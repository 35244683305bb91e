package entity

import (
	"github.com/benbjohnson/immutable"
)

// Collection is a key-ordered set of entity handles. Every parent keeps one
// Collection per child type; iteration order is Key order, which is also the
// display order.
//
// The backing map is persistent, so a failed Add or Remove never leaves a
// partial change behind. A nil *Collection reads as empty.
type Collection struct {
	m *immutable.SortedMap
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{m: immutable.NewSortedMap(keyComparer{})}
}

// Add inserts id under key. Returns ErrDuplicateKey if key is present.
func (c *Collection) Add(key Key, id ID) error {
	if _, ok := c.m.Get(key); ok {
		return ErrDuplicateKey
	}
	c.m = c.m.Set(key, id)
	return nil
}

// Remove deletes key. Returns ErrKeyNotFound if key is absent.
func (c *Collection) Remove(key Key) error {
	if _, ok := c.m.Get(key); !ok {
		return ErrKeyNotFound
	}
	c.m = c.m.Delete(key)
	return nil
}

// Get returns the handle stored under key.
func (c *Collection) Get(key Key) (ID, bool) {
	if c == nil {
		return ID{}, false
	}
	v, ok := c.m.Get(key)
	if !ok {
		return ID{}, false
	}
	return v.(ID), true
}

// Contains reports whether key is present.
func (c *Collection) Contains(key Key) bool {
	_, ok := c.Get(key)
	return ok
}

// Len returns the number of entries.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return c.m.Len()
}

// At returns the entry at ordinal position i. Each call walks from the first
// entry, so looping over At is quadratic; use Each or IDs to visit every
// entry.
func (c *Collection) At(i int) (Key, ID, bool) {
	if c == nil || i < 0 || i >= c.m.Len() {
		return Key{}, ID{}, false
	}
	itr := c.m.Iterator()
	for n := 0; !itr.Done(); n++ {
		k, v := itr.Next()
		if n == i {
			return k.(Key), v.(ID), true
		}
	}
	return Key{}, ID{}, false
}

// Each calls fn for every entry in key order until fn returns false.
func (c *Collection) Each(fn func(Key, ID) bool) {
	if c == nil {
		return
	}
	itr := c.m.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		if !fn(k.(Key), v.(ID)) {
			return
		}
	}
}

// Keys returns all keys in order.
func (c *Collection) Keys() []Key {
	keys := make([]Key, 0, c.Len())
	c.Each(func(k Key, _ ID) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// IDs returns all handles in key order.
func (c *Collection) IDs() []ID {
	ids := make([]ID, 0, c.Len())
	c.Each(func(_ Key, id ID) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}
