// Package bufpool provides sized byte-slice reuse for the packet bus's
// "fake DMA" staging copies, avoiding an allocation on every packet that
// wraps the ring.
package bufpool

import "sync"

// sizeClasses covers the common staging-copy sizes seen on the capture
// path: small headers, one video row, and a full compressed frame.
var sizeClasses = []int{256, 4096, 65536, 1 << 20}

type classPool struct {
	size int
	pool *sync.Pool
}

// Pool is a size-classed set of sync.Pools.
type Pool struct {
	pools []classPool
}

var defaultPool = New()

// Get acquires a buffer of length size from the package-level default pool.
func Get(size int) []byte { return defaultPool.Get(size) }

// Put releases a buffer back to the package-level default pool.
func Put(buf []byte) { defaultPool.Put(buf) }

// New creates a buffer pool with the predefined size classes.
func New() *Pool {
	pools := make([]classPool, len(sizeClasses))
	for i, class := range sizeClasses {
		size := class
		pools[i] = classPool{
			size: size,
			pool: &sync.Pool{
				New: func() any { return make([]byte, size) },
			},
		}
	}
	return &Pool{pools: pools}
}

// Get returns a byte slice of exactly length size, backed by the smallest
// size class that fits. Requests larger than the biggest class allocate
// directly and are not pooled.
func (p *Pool) Get(size int) []byte {
	if p == nil || size <= 0 {
		return nil
	}
	for i := range p.pools {
		class := &p.pools[i]
		if size <= class.size {
			buf := class.pool.Get().([]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to the pool whose size class matches its capacity.
// Slices not matching a known size class (oversized allocations) are
// dropped for the GC to collect.
func (p *Pool) Put(buf []byte) {
	if p == nil || buf == nil {
		return
	}
	c := cap(buf)
	for i := range p.pools {
		class := &p.pools[i]
		if c == class.size {
			class.pool.Put(buf[:c])
			return
		}
	}
}
