// Package bytepool implements a pool of reusable byte slices.
package bytepool

import "sync"

// BytePool is a cached pool of equally sized byte slices.
type BytePool struct {
	sync.Pool
}

// New allocates a new BytePool with slices of the provided capacity.
func New(length int) *BytePool {
	var bp BytePool
	bp.Pool.New = func() interface{} {
		b := make([]byte, length)
		return &b
	}
	return &bp
}

// Get returns a byte slice from the pool.
func (bp *BytePool) Get() *[]byte {
	return bp.Pool.Get().(*[]byte)
}

// Put returns a byte slice to the pool.
func (bp *BytePool) Put(b *[]byte) {
	*b = (*b)[:cap(*b)]
	bp.Pool.Put(b)
}
