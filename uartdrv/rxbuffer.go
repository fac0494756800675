package uartdrv

// rxBuffer is the software receive buffer of one handle. Each ISR burst is
// written from offset zero and sets index; the foreground consumes from read. Both sides touch it only with interrupts
// masked (the ISR implicitly, task code via Driver.critical), so it needs no
// atomics of its own.
type rxBuffer struct {
	data  []byte
	index int // next write offset, never above len(data)
	read  int // next unread offset, never above index
}

func newRxBuffer(size int) *rxBuffer {
	return &rxBuffer{data: make([]byte, size)}
}

// Size returns the capacity in bytes.
func (rb *rxBuffer) Size() int { return len(rb.data) }

// Used returns how many bytes are waiting to be read.
func (rb *rxBuffer) Used() int { return rb.index - rb.read }

// Index returns the write cursor.
func (rb *rxBuffer) Index() int { return rb.index }

// Load replaces the contents with burst, starting at offset zero. It returns how
// many unread bytes of the previous burst were overwritten and how many bytes of
// burst did not fit.
func (rb *rxBuffer) Load(burst []byte) (overwritten, truncated int) {
	overwritten = rb.Used()
	n := copy(rb.data, burst)
	rb.index, rb.read = n, 0
	return overwritten, len(burst) - n
}

// Get consumes one byte. If the buffer is empty, it returns (0, false).
func (rb *rxBuffer) Get() (byte, bool) {
	if rb.read == rb.index {
		return 0, false
	}
	v := rb.data[rb.read]
	rb.read++
	return v, true
}

// Read consumes up to len(p) bytes.
func (rb *rxBuffer) Read(p []byte) int {
	n := copy(p, rb.data[rb.read:rb.index])
	rb.read += n
	return n
}

// Unread aliases the bytes not yet consumed.
func (rb *rxBuffer) Unread() []byte { return rb.data[rb.read:rb.index] }

// Flush zeroes the storage and resets both cursors.
func (rb *rxBuffer) Flush() {
	clear(rb.data)
	rb.index, rb.read = 0, 0
}
