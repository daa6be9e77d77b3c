package raster

import "sync"

// bufPools maps buffer length → *sync.Pool of []byte. Pipelines use a
// handful of block sizes per run, so the map stays tiny.
var bufPools sync.Map

// getBuffer returns a zeroed buffer of length n from the pool, or
// allocates a new one.
func getBuffer(n int) []byte {
	if n == 0 {
		return []byte{}
	}
	if p, ok := bufPools.Load(n); ok {
		if v := p.(*sync.Pool).Get(); v != nil {
			buf := *(v.(*[]byte))
			clear(buf)
			return buf
		}
	}
	return make([]byte, n)
}

// putBuffer returns a buffer to the pool for reuse.
func putBuffer(buf []byte) {
	if len(buf) == 0 {
		return
	}
	p, _ := bufPools.LoadOrStore(len(buf), &sync.Pool{})
	p.(*sync.Pool).Put(&buf)
}
