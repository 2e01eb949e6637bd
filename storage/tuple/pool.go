package tuple

import "fmt"

// Handle refers to a value in a Pool; the zero Handle is the null value.
type Handle uint32

// Pool stores the non-inlined payloads of variable length columns. A pool
// may be shared by any number of tables; its lifetime must exceed theirs.
// Pools are not safe for concurrent use.
type Pool struct {
	data [][]byte
	free []Handle
	size int64
}

func NewPool() *Pool {
	return &Pool{
		data: make([][]byte, 1), // data[0] reserved for the null Handle
	}
}

// Alloc copies b into the pool and returns a handle for it.
func (p *Pool) Alloc(b []byte) Handle {
	buf := append(make([]byte, 0, len(b)), b...)
	p.size += int64(len(buf))

	if n := len(p.free); n > 0 {
		h := p.free[n-1]
		p.free = p.free[:n-1]
		p.data[h] = buf
		return h
	}

	p.data = append(p.data, buf)
	return Handle(len(p.data) - 1)
}

// Free releases the payload for h and returns the number of bytes released.
func (p *Pool) Free(h Handle) int {
	if h == 0 {
		return 0
	}
	if int(h) >= len(p.data) || p.data[h] == nil {
		panic(fmt.Sprintf("tuple: pool: free of bad handle: %d", h))
	}

	n := len(p.data[h])
	p.size -= int64(n)
	p.data[h] = nil
	p.free = append(p.free, h)
	return n
}

func (p *Pool) Bytes(h Handle) []byte {
	if h == 0 {
		panic("tuple: pool: bytes of null handle")
	}
	if int(h) >= len(p.data) || p.data[h] == nil {
		panic(fmt.Sprintf("tuple: pool: bytes of bad handle: %d", h))
	}
	return p.data[h]
}

// Size is the total number of payload bytes currently held.
func (p *Pool) Size() int64 {
	return p.size
}
