package pyramid

import "sync"

// int16PoolKey identifies a buffer pool by element count.
type int16PoolKey struct {
	n int
}

// int16Pools maps buffer length -> *sync.Pool of []int16, adapted from the
// teacher's internal/tile/rgbapool.go (a sync.Map keyed by image
// dimensions holding *image.RGBA) to pool the tile-sized []int16 buffers
// every base and level tile build allocates and discards. In practice a
// run only ever uses one or two distinct lengths (tileSize² and the
// downsample sub-buffer size), so the map stays tiny.
var int16Pools sync.Map

// getInt16Buf returns a zeroed []int16 of length n from the pool, or
// allocates a new one.
func getInt16Buf(n int) []int16 {
	key := int16PoolKey{n}
	if p, ok := int16Pools.Load(key); ok {
		if v := p.(*sync.Pool).Get(); v != nil {
			buf := v.([]int16)
			clear(buf)
			return buf
		}
	}
	return make([]int16, n)
}

// putInt16Buf returns buf to the pool for reuse.
func putInt16Buf(buf []int16) {
	if buf == nil {
		return
	}
	key := int16PoolKey{len(buf)}
	p, _ := int16Pools.LoadOrStore(key, &sync.Pool{})
	p.(*sync.Pool).Put(buf)
}
