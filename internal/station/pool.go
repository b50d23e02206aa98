package station

// framePool recycles encoder frame buffers. It holds at most cap(free)
// idle buffers; anything beyond that is left to the garbage collector.
type framePool struct {
	size int
	free chan []byte
}

func newFramePool(size, idle int) *framePool {
	if idle < 1 {
		idle = 1
	}
	return &framePool{size: size, free: make(chan []byte, idle)}
}

func (p *framePool) get() []byte {
	select {
	case b := <-p.free:
		return b
	default:
		return make([]byte, p.size)
	}
}

func (p *framePool) put(b []byte) {
	if cap(b) < p.size {
		return
	}
	select {
	case p.free <- b[:p.size]:
	default:
	}
}
