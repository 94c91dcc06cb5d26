package connmodel

// CIDAllocator hands out worker-unique 64-bit connection ids by linear
// probing forward from a monotonically advancing base, wrapping at
// most once per allocation attempt. Ids are recycled as connections
// are released, so the probe must skip ids still held by the LRU.
type CIDAllocator struct {
	next uint64
	lru  *LRU
}

// NewCIDAllocator returns an allocator that checks lru for collisions.
func NewCIDAllocator(lru *LRU) *CIDAllocator {
	return &CIDAllocator{lru: lru}
}

// Allocate returns an unused cid, or false if the LRU is full enough
// that no free id could be found within one full wraparound (which in
// practice only happens when Len() == max, since the id space is vast
// relative to tcp_conns_per_vl_max).
func (a *CIDAllocator) Allocate() (uint64, bool) {
	if a.lru.Full() {
		return 0, false
	}
	start := a.next
	for {
		cid := a.next
		a.next++
		if _, taken := a.lru.Get(cid); !taken {
			return cid, true
		}
		if a.next == start {
			return 0, false
		}
	}
}
