package sim

// reg is a simulated register. read must be free of side effects; load, when set,
// is the side-effecting read the CPU performs (popping a FIFO).
type reg struct {
	b     *Bus
	read  func() uint32
	load  func() uint32
	write func(uint32)
}

func (r *reg) Get() uint32 {
	r.b.mu.Lock()
	var v uint32
	if r.load != nil {
		v = r.load()
	} else {
		v = r.read()
	}
	r.b.mu.Unlock()
	if r.load != nil {
		r.b.after()
	}
	return v
}

func (r *reg) Set(v uint32) {
	r.b.mu.Lock()
	r.write(v)
	r.b.mu.Unlock()
	r.b.after()
}

func (r *reg) SetBits(mask uint32) {
	r.b.mu.Lock()
	r.write(r.read() | mask)
	r.b.mu.Unlock()
	r.b.after()
}

func (r *reg) ClearBits(mask uint32) {
	r.b.mu.Lock()
	r.write(r.read() &^ mask)
	r.b.mu.Unlock()
	r.b.after()
}

func (r *reg) HasBits(mask uint32) bool {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	return r.read()&mask != 0
}
