package uartdrv

import (
	"context"
	"errors"
	"runtime"
	"time"
)

// Readable returns a coalesced notification sent by the ISR whenever it buffers
// new bytes. Callers must re-check state after waking.
func (u *UART) Readable() <-chan struct{} { return u.notify }

// TryPut writes c to UxTXREG unless the transmit FIFO is full, in which case it
// returns ErrBusy without touching the register.
func (u *UART) TryPut(c byte) error {
	if err := u.ready(); err != nil {
		return err
	}
	if u.port.Status().HasBits(uint32(StatusUTXBF)) {
		return ErrBusy
	}
	u.port.TxReg().Set(uint32(c))
	return nil
}

// Put spins until the transmit FIFO has room, then writes c. It is bounded by
// Config.Timeout.
func (u *UART) Put(c byte) error {
	ctx, cancel := u.waitContext()
	defer cancel()
	return u.PutContext(ctx, c)
}

// PutContext is Put bounded by ctx.
func (u *UART) PutContext(ctx context.Context, c byte) error {
	for {
		err := u.TryPut(c)
		if err != ErrBusy {
			return err
		}
		if err := u.pause(ctx); err != nil {
			return err
		}
	}
}

// Puts transmits p up to, not including, the first NUL byte, blocking per byte.
// It returns the number of bytes written.
func (u *UART) Puts(p []byte) (int, error) {
	ctx, cancel := u.waitContext()
	defer cancel()
	return u.PutsContext(ctx, p)
}

// PutsContext is Puts bounded by ctx as a whole.
func (u *UART) PutsContext(ctx context.Context, p []byte) (int, error) {
	for i, c := range p {
		if c == 0 {
			return i, nil
		}
		if err := u.PutContext(ctx, c); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// TryPuts writes p[from:] up to the first NUL without blocking. It returns the
// cursor to resume from: on ErrBusy call again with the returned value; on
// success the cursor is the end of the string.
func (u *UART) TryPuts(p []byte, from int) (int, error) {
	if from < 0 || from > len(p) {
		return from, configErr("cursor", from)
	}
	i := from
	for ; i < len(p) && p[i] != 0; i++ {
		if err := u.TryPut(p[i]); err != nil {
			return i, err
		}
	}
	return i, nil
}

// TryGet returns the next received byte without waiting, or ErrNoData. The
// software buffer is read first and the hardware FIFO only once it is empty, so
// bytes buffered before DisableInterrupt stay reachable.
func (u *UART) TryGet() (byte, error) {
	if err := u.ready(); err != nil {
		return 0, err
	}
	var (
		b   byte
		err = ErrNoData
	)
	u.drv.critical(func() {
		if u.buf == nil {
			err = ErrClosed
			return
		}
		if v, ok := u.buf.Get(); ok {
			b, err = v, nil
			return
		}
		if u.port.Status().HasBits(uint32(StatusURXDA)) {
			b, err = byte(u.port.RxReg().Get()), nil
		}
	})
	return b, err
}

// Get waits for one byte, bounded by Config.Timeout.
func (u *UART) Get() (byte, error) {
	ctx, cancel := u.waitContext()
	defer cancel()
	return u.GetContext(ctx)
}

// GetContext is Get bounded by ctx. With the receive interrupt enabled it sleeps
// on Readable; otherwise it spins on URXDA.
func (u *UART) GetContext(ctx context.Context) (byte, error) {
	for {
		b, err := u.TryGet()
		if err != ErrNoData {
			return b, err
		}
		if u.interrupts.Load() {
			err = u.waitReadable(ctx)
		} else {
			err = u.pause(ctx)
		}
		if err != nil {
			return 0, err
		}
	}
}

// Gets fills p completely, one byte at a time, bounded by Config.Timeout as a
// whole. It returns the number of bytes stored in p.
func (u *UART) Gets(p []byte) (int, error) {
	ctx, cancel := u.waitContext()
	defer cancel()
	return u.GetsContext(ctx, p)
}

// GetsContext is Gets bounded by ctx.
func (u *UART) GetsContext(ctx context.Context, p []byte) (int, error) {
	for i := range p {
		b, err := u.GetContext(ctx)
		if err != nil {
			return i, err
		}
		p[i] = b
	}
	return len(p), nil
}

// TryGets copies up to len(p) available bytes without waiting: first from the
// software buffer, then from the hardware FIFO. It returns ErrNoData when
// nothing was available.
func (u *UART) TryGets(p []byte) (int, error) {
	if err := u.ready(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	var (
		n   int
		err error
	)
	u.drv.critical(func() {
		if u.buf == nil {
			err = ErrClosed
			return
		}
		n = u.buf.Read(p)
		for n < len(p) && u.port.Status().HasBits(uint32(StatusURXDA)) {
			p[n] = byte(u.port.RxReg().Get())
			n++
		}
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNoData
	}
	return n, nil
}

// Buffered returns the number of unread bytes in the software buffer.
func (u *UART) Buffered() int {
	if u.check() != nil {
		return 0
	}
	n := 0
	u.drv.critical(func() {
		if u.buf != nil {
			n = u.buf.Used()
		}
	})
	return n
}

// Flush zeroes the software buffer and resets its index. It is idempotent.
func (u *UART) Flush() error {
	if err := u.check(); err != nil {
		return err
	}
	u.drv.critical(func() {
		if u.buf != nil {
			u.buf.Flush()
		}
	})
	select {
	case <-u.notify:
	default:
	}
	return nil
}

// Snapshot copies the whole software buffer and returns it with the write index.
func (u *UART) Snapshot() ([]byte, int, error) {
	if err := u.check(); err != nil {
		return nil, 0, err
	}
	var (
		out []byte
		idx int
	)
	u.drv.critical(func() {
		if u.buf != nil {
			out = append([]byte(nil), u.buf.data...)
			idx = u.buf.Index()
		}
	})
	return out, idx, nil
}

func (u *UART) waitContext() (context.Context, context.CancelFunc) {
	if u != nil && u.timeout > 0 {
		return context.WithTimeout(context.Background(), u.timeout)
	}
	return context.WithCancel(context.Background())
}

// pause yields once between status polls.
func (u *UART) pause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctxErr(ctx)
	case <-u.done:
		return ErrClosed
	default:
	}
	runtime.Gosched()
	return nil
}

// waitReadable sleeps until the ISR signals new data. Bytes below the FIFO
// trigger level never raise the interrupt, so it also wakes after a short tick to
// let the caller poll the hardware FIFO.
func (u *UART) waitReadable(ctx context.Context) error {
	t := time.NewTimer(u.pollTick())
	defer t.Stop()
	select {
	case <-u.notify:
		return nil
	case <-t.C:
		return nil
	case <-u.done:
		return ErrClosed
	case <-ctx.Done():
		return ctxErr(ctx)
	}
}

// pollTick is about two character times at the configured rate, 10 bits per
// character, with a lower bound.
func (u *UART) pollTick() time.Duration {
	if u.baud == 0 {
		return 50 * time.Microsecond
	}
	t := 2 * 10 * (time.Second / time.Duration(u.baud))
	if t < 20*time.Microsecond {
		t = 20 * time.Microsecond
	}
	return t
}

func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
