package wisp

import "hash/fnv"

// stringPoolInitialCapacity matches original_source/include/config.h's
// STRING_POOL_CAPACITY.
const stringPoolInitialCapacity = 32

// stringPoolLoadFactor is expressed the way original_source's
// HASH_LOAD_FACTOR is (a percentage out of 100): rehash once
// (count+1)*100 >= capacity*loadFactor, i.e. at 75% load.
const stringPoolLoadFactor = 75

// stringPool is an open-addressed table of interned strings. Two
// byte-equal strings always resolve to the same *stringObject, so value
// equality on strings can be (and is, in value.go) pointer equality.
// Grounded on original_source/src/vm/string_pool.c.
type stringPool struct {
	buckets  []*stringObject
	count    int
	capacity int
}

func newStringPool() *stringPool {
	return &stringPool{
		buckets:  make([]*stringObject, stringPoolInitialCapacity),
		capacity: stringPoolInitialCapacity,
	}
}

func fnv1a(bytes string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(bytes))
	return h.Sum32()
}

// doubleHashStep computes the next probe position's hash via an xor-shift
// (13/17/5), with a fixed-point self-map guard so the step is never zero:
// 0 and the sentinel 0xBA5EDB01 map to each other instead of to
// themselves, exactly as original_source's double_hash does.
func doubleHashStep(h uint32) uint32 {
	const sentinel = 0xBA5EDB01
	switch h {
	case sentinel:
		return 0
	case 0:
		return sentinel
	}
	h ^= h << 13
	h ^= h >> 17
	h ^= h << 5
	return h
}

func (sp *stringPool) shouldRehash() bool {
	return (sp.count+1)*100 >= sp.capacity*stringPoolLoadFactor
}

func (sp *stringPool) rehash(newCapacity int) {
	if newCapacity < sp.capacity {
		return
	}
	newBuckets := make([]*stringObject, newCapacity)
	for _, s := range sp.buckets {
		if s == nil {
			continue
		}
		h := s.hash
		for {
			idx := h % uint32(newCapacity)
			if newBuckets[idx] == nil {
				newBuckets[idx] = s
				break
			}
			h = doubleHashStep(h)
		}
	}
	sp.buckets = newBuckets
	sp.capacity = newCapacity
}

// intern returns the canonical *stringObject for bytes, allocating and
// heap-registering a new one only if no equal string is already interned.
func (sp *stringPool) intern(h *Heap, bytes string) *stringObject {
	strHash := fnv1a(bytes)

	if sp.shouldRehash() {
		sp.rehash(sp.capacity * 2)
	}

	probe := strHash
	for {
		idx := probe % uint32(sp.capacity)
		bucket := sp.buckets[idx]

		if bucket == nil {
			s := &stringObject{bytes: bytes, hash: strHash}
			s.header = h.allocate(s)
			sp.buckets[idx] = s
			sp.count++
			return s
		}
		if bucket.hash == strHash && bucket.bytes == bytes {
			return bucket
		}

		probe = doubleHashStep(probe)
	}
}

// remove clears the slot holding s, probing from its own hash until the
// exact object is found, mirroring vm_string_pool_remove.
func (sp *stringPool) remove(s *stringObject) {
	h := s.hash
	for {
		idx := h % uint32(sp.capacity)
		if sp.buckets[idx] == s {
			sp.buckets[idx] = nil
			sp.count--
			return
		}
		if sp.buckets[idx] == nil {
			return
		}
		h = doubleHashStep(h)
	}
}
