package stats

// ring is a fixed-capacity FIFO that overwrites its oldest element when full.
type ring[T any] struct {
	buf   []T
	start int
	n     int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if len(r.buf) == 0 {
		return
	}
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// each visits elements oldest first.
func (r *ring[T]) each(fn func(T)) {
	for i := 0; i < r.n; i++ {
		fn(r.buf[(r.start+i)%len(r.buf)])
	}
}

func (r *ring[T]) len() int { return r.n }

func (r *ring[T]) clear() {
	clear(r.buf)
	r.start, r.n = 0, 0
}
