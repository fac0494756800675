// Command uartdrv_selftest exercises the driver end to end on the simulated
// register bus and prints a PASS/FAIL summary. It exits non-zero on failure.
package main

import (
	"context"
	"crypto/sha1"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/jangala-dev/tinygo-uartdrv/sim"
	"github.com/jangala-dev/tinygo-uartdrv/uartdrv"
)

var (
	baud       = uint(uartdrv.Baud115200)
	lineEnding = "\r\n"
)

func init() {
	flag.UintVar(&baud, "baud", baud, "Baud rate used by every test.")
}

func loopbackConfig(dev uartdrv.Device, irq bool) uartdrv.Config {
	return uartdrv.Config{
		Device:      dev,
		Baud:        uartdrv.BaudRate(baud),
		DataFormat:  uartdrv.NoParity8Bit,
		FifoTrigger: uartdrv.FifoChar,
		BufferSize:  uartdrv.MaxBufferSize,
		Interrupts:  irq,
		Priority:    3,
		SubPriority: 3,
		Loopback:    true,
		Timeout:     time.Second,
	}
}

// open configures and enables a handle; the returned func destroys it.
func open(drv *uartdrv.Driver, cfg uartdrv.Config) (*uartdrv.UART, func(), error) {
	u, err := drv.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := u.Enable(); err != nil {
		u.Destroy()
		return nil, nil, err
	}
	return u, func() {
		if err := u.Destroy(); err != nil {
			glog.Warningf("destroy %v: %v", cfg.Device, err)
		}
	}, nil
}

// sendAllContext writes p with TryPut, yielding while the TX FIFO is full.
func sendAllContext(ctx context.Context, u *uartdrv.UART, p []byte) (int, error) {
	sent := 0
	for sent < len(p) {
		err := u.TryPut(p[sent])
		switch err {
		case nil:
			sent++
			continue
		case uartdrv.ErrBusy:
		default:
			return sent, err
		}
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case <-time.After(50 * time.Microsecond):
		}
	}
	return sent, nil
}

// recvExact collects n bytes with TryGets, sleeping on Readable in between.
func recvExact(ctx context.Context, u *uartdrv.UART, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	var buf [128]byte
	for len(out) < n {
		want := n - len(out)
		if want > len(buf) {
			want = len(buf)
		}
		k, err := u.TryGets(buf[:want])
		if err == nil {
			out = append(out, buf[:k]...)
			continue
		}
		if err != uartdrv.ErrNoData {
			return out, err
		}
		select {
		case <-u.Readable():
		case <-time.After(time.Millisecond):
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
	return out, nil
}

func main() {
	flag.Parse()
	defer glog.Flush()

	bus := sim.New()
	drv := uartdrv.NewDriver(bus, uartdrv.WithTrace(func(dev uartdrv.Device, burst []byte) {
		glog.V(3).Infof("%v burst % x", dev, burst)
	}))
	bus.Attach(drv)

	fmt.Println("uartdrv self-test starting")

	pass, fail := 0, 0
	run := func(name string, f func() string) {
		fmt.Println()
		fmt.Println("[Test]", name)
		if msg := f(); msg == "" {
			fmt.Println("  PASS")
			pass++
		} else {
			fmt.Println("  FAIL:", msg)
			glog.Errorf("%s: %s", name, msg)
			fail++
		}
	}

	run("sanity: polled loopback (Puts + Gets)", func() string {
		u, done, err := open(drv, loopbackConfig(uartdrv.UART1, false))
		if err != nil {
			return err.Error()
		}
		defer done()
		msg := []byte("hello, uartdrv" + lineEnding)
		if _, err := u.Puts(msg); err != nil {
			return "puts: " + err.Error()
		}
		got := make([]byte, len(msg))
		if _, err := u.Gets(got); err != nil {
			return "gets: " + err.Error()
		}
		if string(got) != string(msg) {
			return fmt.Sprintf("got %q", got)
		}
		return ""
	})

	run("interrupt: callback at FIFO trigger", func() string {
		var (
			mu    sync.Mutex
			calls int
			last  []byte
		)
		cfg := loopbackConfig(uartdrv.UART1, true)
		cfg.Loopback = false
		cfg.FifoTrigger = uartdrv.FifoFull
		cfg.BufferSize = 20
		cfg.OnReceive = func(_ uartdrv.Device, data []byte) {
			mu.Lock()
			calls++
			last = append(last[:0], data...)
			mu.Unlock()
		}
		_, done, err := open(drv, cfg)
		if err != nil {
			return err.Error()
		}
		defer done()
		bus.Inject(uartdrv.UART1, 0x41, 0x42, 0x43, 0x44)
		mu.Lock()
		defer mu.Unlock()
		if calls != 1 || string(last) != "ABCD" {
			return fmt.Sprintf("calls=%d data=%q", calls, last)
		}
		return ""
	})

	run("blocking: Get waits for a single byte", func() string {
		u, done, err := open(drv, loopbackConfig(uartdrv.UART2, true))
		if err != nil {
			return err.Error()
		}
		defer done()
		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = u.Put('Z')
		}()
		b, err := u.Get()
		if err != nil {
			return err.Error()
		}
		if b != 'Z' {
			return fmt.Sprintf("got %q", b)
		}
		return ""
	})

	run("timeout: Get with no data", func() string {
		cfg := loopbackConfig(uartdrv.UART2, true)
		cfg.Timeout = 50 * time.Millisecond
		u, done, err := open(drv, cfg)
		if err != nil {
			return err.Error()
		}
		defer done()
		if _, err := u.Get(); err != uartdrv.ErrTimeout {
			return fmt.Sprintf("got %v, want ErrTimeout", err)
		}
		return ""
	})

	run("non-blocking: TryPuts resumes after stall", func() string {
		cfg := loopbackConfig(uartdrv.UART1, false)
		cfg.Loopback = false
		u, done, err := open(drv, cfg)
		if err != nil {
			return err.Error()
		}
		defer done()
		bus.Transmitted(uartdrv.UART1)
		msg := []byte("non-blocking write")
		bus.StallTx(uartdrv.UART1, true)
		next, err := u.TryPuts(msg, 0)
		if err != uartdrv.ErrBusy {
			return fmt.Sprintf("stalled TryPuts: next=%d err=%v", next, err)
		}
		bus.StallTx(uartdrv.UART1, false)
		for next < len(msg) {
			if next, err = u.TryPuts(msg, next); err != nil && err != uartdrv.ErrBusy {
				return err.Error()
			}
		}
		if got := bus.Transmitted(uartdrv.UART1); string(got) != string(msg) {
			return fmt.Sprintf("wire %q", got)
		}
		return ""
	})

	// Polled: every ISR burst overwrites the software buffer, so a reader that
	// falls behind by a burst would lose data.
	run("binary: 4 KiB integrity (SHA-1)", func() string {
		u, done, err := open(drv, loopbackConfig(uartdrv.UART1, false))
		if err != nil {
			return err.Error()
		}
		defer done()
		n := uartdrv.MaxBufferSize
		src := make([]byte, n)
		var x uint32 = 0x12345678
		for i := range src {
			x = 1664525*x + 1013904223
			src[i] = byte(x >> 24)
		}
		want := sha1.Sum(src)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		go func() { _, _ = sendAllContext(ctx, u, src) }()
		got, err := recvExact(ctx, u, n)
		if err != nil || len(got) != n {
			return fmt.Sprintf("short read %d: %v", len(got), err)
		}
		if sha1.Sum(got) != want {
			return "hash mismatch"
		}
		return ""
	})

	run("dual: UART1 TX wired to UART2 RX", func() string {
		cfg1 := loopbackConfig(uartdrv.UART1, false)
		cfg1.Loopback = false
		u1, done1, err := open(drv, cfg1)
		if err != nil {
			return err.Error()
		}
		defer done1()
		// The receive callback copies each burst out before the next one
		// overwrites the buffer.
		rx := make(chan byte, 64)
		cfg2 := loopbackConfig(uartdrv.UART2, true)
		cfg2.Loopback = false
		cfg2.OnReceive = func(_ uartdrv.Device, data []byte) {
			for _, c := range data {
				select {
				case rx <- c:
				default:
				}
			}
		}
		_, done2, err := open(drv, cfg2)
		if err != nil {
			return err.Error()
		}
		defer done2()

		bus.OnTransmit(uartdrv.UART1, func(c byte) { bus.Inject(uartdrv.UART2, c) })
		defer bus.OnTransmit(uartdrv.UART1, nil)

		msg := []byte("cross-wired" + lineEnding)
		if _, err := u1.Puts(msg); err != nil {
			return err.Error()
		}
		got := make([]byte, 0, len(msg))
		for len(got) < len(msg) {
			select {
			case c := <-rx:
				got = append(got, c)
			case <-time.After(time.Second):
				return fmt.Sprintf("timeout after %q", got)
			}
		}
		if string(got) != string(msg) {
			return fmt.Sprintf("got %q", got)
		}
		return ""
	})

	run("format: SetDataFormat 8E2 keeps loopback", func() string {
		u, done, err := open(drv, loopbackConfig(uartdrv.UART2, false))
		if err != nil {
			return err.Error()
		}
		defer done()
		if err := u.SetDataFormat(uartdrv.EvenParity8Bit); err != nil {
			return err.Error()
		}
		if err := u.SetStopBits(uartdrv.TwoStop); err != nil {
			return err.Error()
		}
		regs, _ := drv.DebugRegs(uartdrv.UART2)
		if uartdrv.FormatFromMode(regs.Mode) != uartdrv.EvenParity8Bit {
			return "PDSEL read-back"
		}
		msg := []byte("format-ok" + lineEnding)
		if _, err := u.Puts(msg); err != nil {
			return err.Error()
		}
		got := make([]byte, len(msg))
		if _, err := u.Gets(got); err != nil || string(got) != string(msg) {
			return fmt.Sprintf("got %q err=%v", got, err)
		}
		return ""
	})

	for _, dev := range []uartdrv.Device{uartdrv.UART1, uartdrv.UART2} {
		st := drv.Stats(dev)
		glog.Infof("%v: %+v", dev, st)
	}

	fmt.Println()
	fmt.Println("Summary")
	fmt.Println("  passed =", pass)
	fmt.Println("  failed =", fail)
	if fail > 0 {
		glog.Flush()
		os.Exit(1)
	}
}
