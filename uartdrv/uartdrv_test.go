package uartdrv_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jangala-dev/tinygo-uartdrv/sim"
	"github.com/jangala-dev/tinygo-uartdrv/uartdrv"
)

// newTestDriver returns a driver wired to a fresh simulated bus.
func newTestDriver(t *testing.T, opts ...sim.Option) (*uartdrv.Driver, *sim.Bus) {
	t.Helper()
	bus := sim.New(opts...)
	d := uartdrv.NewDriver(bus)
	bus.Attach(d)
	return d, bus
}

func baseConfig(dev uartdrv.Device) uartdrv.Config {
	return uartdrv.Config{
		Device:      dev,
		Baud:        uartdrv.Baud9600,
		DataFormat:  uartdrv.NoParity8Bit,
		StopBits:    uartdrv.OneStop,
		FifoTrigger: uartdrv.FifoChar,
		BufferSize:  32,
	}
}

// openEnabled opens and enables a handle and destroys it when the test ends.
func openEnabled(t *testing.T, d *uartdrv.Driver, cfg uartdrv.Config) *uartdrv.UART {
	t.Helper()
	u, err := d.Open(cfg)
	require.NoError(t, err)
	require.NoError(t, u.Enable())
	t.Cleanup(func() { _ = u.Destroy() })
	return u
}

// recorder collects ReceiveHandler invocations.
type recorder struct {
	mu    sync.Mutex
	calls [][]byte
}

func (r *recorder) handle(_ uartdrv.Device, data []byte) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]byte(nil), data...))
	r.mu.Unlock()
}

func (r *recorder) snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.calls...)
}

func TestOpen_ProgramsRegisters(t *testing.T) {
	d, _ := newTestDriver(t)
	cfg := baseConfig(uartdrv.UART1)
	cfg.StopBits = uartdrv.TwoStop
	cfg.FifoTrigger = uartdrv.FifoThreeQuarter
	cfg.HighSpeed = true
	u, err := d.Open(cfg)
	require.NoError(t, err)
	defer u.Destroy()

	regs, err := d.DebugRegs(uartdrv.UART1)
	require.NoError(t, err)

	div, _ := uartdrv.CalculateBaud(uartdrv.Baud9600, true)
	require.Equal(t, uint32(div), regs.Baud)
	require.NotZero(t, regs.Mode&uint32(uartdrv.ModeON))
	require.NotZero(t, regs.Mode&uint32(uartdrv.ModeBRGH))
	require.NotZero(t, regs.Mode&uint32(uartdrv.ModeSTSEL))
	require.Equal(t, uartdrv.NoParity8Bit, uartdrv.FormatFromMode(regs.Mode))
	require.Equal(t, uartdrv.FifoThreeQuarter, uartdrv.TriggerFromStatus(regs.Status))
	// Transmit and receive stay off until Enable.
	require.Zero(t, regs.Status&uint32(uartdrv.StatusUTXEN|uartdrv.StatusURXEN))
	require.Zero(t, regs.IEC)
}

func TestOpen_DataFormatReadBack(t *testing.T) {
	formats := []uartdrv.DataFormat{
		uartdrv.NoParity9Bit, uartdrv.OddParity8Bit, uartdrv.EvenParity8Bit, uartdrv.NoParity8Bit,
	}
	for _, dev := range []uartdrv.Device{uartdrv.UART1, uartdrv.UART2} {
		for _, f := range formats {
			d, _ := newTestDriver(t)
			cfg := baseConfig(dev)
			cfg.DataFormat = f
			u, err := d.Open(cfg)
			require.NoError(t, err)

			regs, err := d.DebugRegs(dev)
			require.NoError(t, err)
			if got := uartdrv.FormatFromMode(regs.Mode); got != f {
				t.Fatalf("%v: got format %v want %v", dev, got, f)
			}
			require.NoError(t, u.Destroy())
		}
	}
}

func TestOpen_RejectsInvalidConfig(t *testing.T) {
	d, _ := newTestDriver(t)

	cases := []struct {
		name string
		edit func(*uartdrv.Config)
		want error
	}{
		{"device", func(c *uartdrv.Config) { c.Device = 7 }, uartdrv.ErrInvalidDevice},
		{"baud", func(c *uartdrv.Config) { c.Baud = 4800 }, uartdrv.ErrConfiguration},
		{"format", func(c *uartdrv.Config) { c.DataFormat = 9 }, uartdrv.ErrConfiguration},
		{"stop", func(c *uartdrv.Config) { c.StopBits = 2 }, uartdrv.ErrConfiguration},
		{"trigger", func(c *uartdrv.Config) { c.FifoTrigger = 1 }, uartdrv.ErrConfiguration},
		{"priority", func(c *uartdrv.Config) { c.Interrupts = true; c.Priority = 0 }, uartdrv.ErrConfiguration},
		{"subpriority", func(c *uartdrv.Config) { c.Interrupts = true; c.Priority = 2; c.SubPriority = 4 }, uartdrv.ErrConfiguration},
		{"subpriority polled", func(c *uartdrv.Config) { c.SubPriority = 0xFF }, uartdrv.ErrConfiguration},
		{"priority polled", func(c *uartdrv.Config) { c.Priority = 8 }, uartdrv.ErrConfiguration},
		{"buffer zero", func(c *uartdrv.Config) { c.BufferSize = 0 }, uartdrv.ErrAllocation},
		{"buffer huge", func(c *uartdrv.Config) { c.BufferSize = uartdrv.MaxBufferSize + 1 }, uartdrv.ErrAllocation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig(uartdrv.UART1)
			tc.edit(&cfg)
			u, err := d.Open(cfg)
			require.Nil(t, u)
			require.ErrorIs(t, err, tc.want)
			require.False(t, d.Bound(uartdrv.UART1))

			regs, err := d.DebugRegs(uartdrv.UART1)
			require.NoError(t, err)
			require.Zero(t, regs.Mode, "no register may be written on a rejected config")
		})
	}
}

func TestOpen_InvalidDeviceIsConfigurationError(t *testing.T) {
	d, _ := newTestDriver(t)
	cfg := baseConfig(uartdrv.UART1)
	cfg.Device = 7
	_, err := d.Open(cfg)
	require.ErrorIs(t, err, uartdrv.ErrConfiguration)
	require.ErrorIs(t, err, uartdrv.ErrInvalidDevice)
}

func TestEnableInterrupt_KeepsOtherIPCBits(t *testing.T) {
	d, bus := newTestDriver(t)
	// Bits above the UART1 priority field belong to other sources.
	bus.IPC(6).Set(0xE0)

	cfg := baseConfig(uartdrv.UART1)
	cfg.SubPriority = 3
	u := openEnabled(t, d, cfg)
	require.NoError(t, u.EnableInterrupt(1))

	require.Equal(t, uint32(0xE0|1<<2|3), bus.IPC(6).Get())
}

func TestOpen_MissingPeripheral(t *testing.T) {
	d, _ := newTestDriver(t, sim.WithDevices(uartdrv.UART1))
	_, err := d.Open(baseConfig(uartdrv.UART2))
	require.ErrorIs(t, err, uartdrv.ErrUnsupportedDevice)
}

func TestOpen_DeviceAlreadyBound(t *testing.T) {
	d, _ := newTestDriver(t)
	u := openEnabled(t, d, baseConfig(uartdrv.UART1))

	_, err := d.Open(baseConfig(uartdrv.UART1))
	require.ErrorIs(t, err, uartdrv.ErrDeviceBound)

	// The other device is independent.
	openEnabled(t, d, baseConfig(uartdrv.UART2))

	require.NoError(t, u.Destroy())
	u2, err := d.Open(baseConfig(uartdrv.UART1))
	require.NoError(t, err)
	require.NoError(t, u2.Destroy())
}

func TestHandle_ZeroValueIsInvalid(t *testing.T) {
	var u uartdrv.UART
	require.ErrorIs(t, u.TryPut('x'), uartdrv.ErrInvalidDevice)
	_, err := u.TryGet()
	require.ErrorIs(t, err, uartdrv.ErrInvalidDevice)
	require.ErrorIs(t, u.Flush(), uartdrv.ErrInvalidDevice)
	require.ErrorIs(t, u.Enable(), uartdrv.ErrInvalidDevice)
	require.ErrorIs(t, u.Destroy(), uartdrv.ErrInvalidDevice)

	var nilHandle *uartdrv.UART
	_, err = nilHandle.Puts([]byte("x"))
	require.ErrorIs(t, err, uartdrv.ErrInvalidDevice)
}

func TestHandle_NotEnabled(t *testing.T) {
	d, _ := newTestDriver(t)
	u, err := d.Open(baseConfig(uartdrv.UART1))
	require.NoError(t, err)
	defer u.Destroy()

	require.ErrorIs(t, u.TryPut('a'), uartdrv.ErrNotEnabled)
	_, err = u.TryGet()
	require.ErrorIs(t, err, uartdrv.ErrNotEnabled)

	require.NoError(t, u.Enable())
	require.NoError(t, u.TryPut('a'))
	require.NoError(t, u.Disable())
	require.ErrorIs(t, u.TryPut('b'), uartdrv.ErrNotEnabled)
}

func TestTryPut_BusyLeavesTxRegUntouched(t *testing.T) {
	d, bus := newTestDriver(t)
	u := openEnabled(t, d, baseConfig(uartdrv.UART1))

	bus.StallTx(uartdrv.UART1, true)
	for i := 0; i < uartdrv.HardwareFifoDepth; i++ {
		require.NoError(t, u.TryPut(byte('0'+i)))
	}
	require.Equal(t, uartdrv.HardwareFifoDepth, bus.TxWrites(uartdrv.UART1))

	require.ErrorIs(t, u.TryPut('x'), uartdrv.ErrBusy)
	require.ErrorIs(t, u.TryPut('y'), uartdrv.ErrBusy)
	require.Equal(t, uartdrv.HardwareFifoDepth, bus.TxWrites(uartdrv.UART1))

	bus.StallTx(uartdrv.UART1, false)
	require.NoError(t, u.TryPut('4'))
	require.Equal(t, "01234", string(bus.Transmitted(uartdrv.UART1)))
}

func TestPut_TimesOutWhileStalled(t *testing.T) {
	d, bus := newTestDriver(t)
	cfg := baseConfig(uartdrv.UART1)
	cfg.Timeout = 20 * time.Millisecond
	u := openEnabled(t, d, cfg)

	bus.StallTx(uartdrv.UART1, true)
	n, err := u.Puts([]byte("abcdef"))
	require.ErrorIs(t, err, uartdrv.ErrTimeout)
	require.Equal(t, uartdrv.HardwareFifoDepth, n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, u.PutContext(ctx, 'z'), context.Canceled)
}

func TestPutsGets_LoopbackRoundTrip(t *testing.T) {
	d, bus := newTestDriver(t)
	cfg := baseConfig(uartdrv.UART1)
	cfg.Loopback = true
	cfg.Timeout = time.Second
	u := openEnabled(t, d, cfg)

	n, err := u.Puts([]byte("hello\x00ignored"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(bus.Transmitted(uartdrv.UART1)))

	buf := make([]byte, 5)
	n, err = u.Gets(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))

	_, err = u.TryGet()
	require.ErrorIs(t, err, uartdrv.ErrNoData)
}

func TestGet_TimesOutWithNoData(t *testing.T) {
	d, _ := newTestDriver(t)
	cfg := baseConfig(uartdrv.UART1)
	cfg.Timeout = 10 * time.Millisecond
	u := openEnabled(t, d, cfg)

	_, err := u.Get()
	require.ErrorIs(t, err, uartdrv.ErrTimeout)

	buf := make([]byte, 4)
	n, err := u.Gets(buf)
	require.ErrorIs(t, err, uartdrv.ErrTimeout)
	require.Zero(t, n)
}

func TestTryPuts_ResumesFromCursor(t *testing.T) {
	d, bus := newTestDriver(t)
	u := openEnabled(t, d, baseConfig(uartdrv.UART2))
	msg := []byte("abcdefgh")

	bus.StallTx(uartdrv.UART2, true)
	next, err := u.TryPuts(msg, 0)
	require.ErrorIs(t, err, uartdrv.ErrBusy)
	require.Equal(t, uartdrv.HardwareFifoDepth, next)

	bus.StallTx(uartdrv.UART2, false)
	next, err = u.TryPuts(msg, next)
	require.NoError(t, err)
	require.Equal(t, len(msg), next)
	require.Equal(t, "abcdefgh", string(bus.Transmitted(uartdrv.UART2)))

	_, err = u.TryPuts(msg, len(msg)+1)
	require.ErrorIs(t, err, uartdrv.ErrConfiguration)
}

func TestTryGets_EmptyReturnsNoData(t *testing.T) {
	d, _ := newTestDriver(t)
	cfg := baseConfig(uartdrv.UART1)
	cfg.Interrupts = true
	cfg.Priority = 2
	u := openEnabled(t, d, cfg)

	n, err := u.TryGets(make([]byte, 8))
	require.ErrorIs(t, err, uartdrv.ErrNoData)
	require.Zero(t, n)
}

func TestTryGets_ShortSliceLeavesRestReadable(t *testing.T) {
	d, bus := newTestDriver(t)
	cfg := baseConfig(uartdrv.UART1)
	cfg.FifoTrigger = uartdrv.FifoFull
	cfg.Interrupts = true
	cfg.Priority = 2
	u := openEnabled(t, d, cfg)

	// "abcd" raises the interrupt and lands in the software buffer; "e" stays
	// below the trigger level in the hardware FIFO.
	bus.Inject(uartdrv.UART1, []byte("abcde")...)
	require.Equal(t, 4, u.Buffered())

	p := make([]byte, 3)
	n, err := u.TryGets(p)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "abc", string(p))
	require.Equal(t, 1, u.Buffered())

	p = make([]byte, 8)
	n, err = u.TryGets(p)
	require.NoError(t, err)
	require.Equal(t, "de", string(p[:n]))

	_, err = u.TryGets(p)
	require.ErrorIs(t, err, uartdrv.ErrNoData)
}

func TestTryGets_PolledShortSlice(t *testing.T) {
	d, bus := newTestDriver(t)
	u := openEnabled(t, d, baseConfig(uartdrv.UART2))

	bus.Inject(uartdrv.UART2, []byte("xyz")...)
	p := make([]byte, 2)
	n, err := u.TryGets(p)
	require.NoError(t, err)
	require.Equal(t, "xy", string(p[:n]))

	b, err := u.TryGet()
	require.NoError(t, err)
	require.Equal(t, byte('z'), b)
}

func TestInterrupt_FullFifoInvokesCallbackOnce(t *testing.T) {
	d, bus := newTestDriver(t)
	rec := &recorder{}
	cfg := baseConfig(uartdrv.UART1)
	cfg.FifoTrigger = uartdrv.FifoFull
	cfg.BufferSize = 20
	cfg.Interrupts = true
	cfg.Priority = 3
	cfg.SubPriority = 3
	cfg.OnReceive = rec.handle
	u := openEnabled(t, d, cfg)

	regs, err := d.DebugRegs(uartdrv.UART1)
	require.NoError(t, err)
	require.Equal(t, uint32(3<<2|3), regs.IPC&0x1F)
	require.NotZero(t, regs.IEC&(1<<27))

	bus.Inject(uartdrv.UART1, 0x41, 0x42, 0x43, 0x44)

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, []byte{0x41, 0x42, 0x43, 0x44}, calls[0])
	require.Equal(t, 4, u.Buffered())

	st := d.Stats(uartdrv.UART1)
	require.Equal(t, uint32(1), st.Interrupts)
	require.Equal(t, uint32(1), st.Callbacks)
	require.Equal(t, uint32(4), st.Bytes)

	buf := make([]byte, 8)
	n, err := u.TryGets(buf)
	require.NoError(t, err)
	require.Equal(t, "ABCD", string(buf[:n]))
}

func TestInterrupt_BelowTriggerStaysInHardware(t *testing.T) {
	d, bus := newTestDriver(t)
	rec := &recorder{}
	cfg := baseConfig(uartdrv.UART1)
	cfg.FifoTrigger = uartdrv.FifoFull
	cfg.Interrupts = true
	cfg.Priority = 1
	cfg.OnReceive = rec.handle
	u := openEnabled(t, d, cfg)

	bus.Inject(uartdrv.UART1, 'x', 'y', 'z')
	require.Empty(t, rec.snapshot())
	require.Zero(t, u.Buffered())

	buf := make([]byte, 8)
	n, err := u.TryGets(buf)
	require.NoError(t, err)
	require.Equal(t, "xyz", string(buf[:n]))
}

func TestInterrupt_GetUnblocks(t *testing.T) {
	d, bus := newTestDriver(t)
	cfg := baseConfig(uartdrv.UART1)
	cfg.Interrupts = true
	cfg.Priority = 5
	u := openEnabled(t, d, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	var got byte
	var err error
	go func() {
		defer close(done)
		got, err = u.GetContext(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	bus.Inject(uartdrv.UART1, 'Z')

	select {
	case <-done:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("timeout waiting for GetContext")
	}
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 'Z' {
		t.Fatalf("got %q want %q", got, 'Z')
	}
}

func TestInterrupt_EachBurstOverwritesFromZero(t *testing.T) {
	d, bus := newTestDriver(t)
	rec := &recorder{}
	cfg := baseConfig(uartdrv.UART1)
	cfg.FifoTrigger = uartdrv.FifoFull
	cfg.BufferSize = 4
	cfg.Interrupts = true
	cfg.Priority = 2
	cfg.OnReceive = rec.handle
	u := openEnabled(t, d, cfg)

	bus.Inject(uartdrv.UART1, []byte("ABCD")...)
	bus.Inject(uartdrv.UART1, []byte("EFGH")...)

	require.Equal(t, [][]byte{[]byte("ABCD"), []byte("EFGH")}, rec.snapshot())

	snap, idx, err := u.Snapshot()
	require.NoError(t, err)
	require.Equal(t, 4, idx)
	require.Equal(t, "EFGH", string(snap))
	require.Equal(t, 4, u.Buffered())

	// ABCD was never read.
	st := d.Stats(uartdrv.UART1)
	require.Equal(t, uint32(2), st.Interrupts)
	require.Equal(t, uint32(8), st.Bytes)
	require.Equal(t, uint32(4), st.Dropped)
}

func TestInterrupt_ReadBurstIsNotDropped(t *testing.T) {
	d, bus := newTestDriver(t)
	cfg := baseConfig(uartdrv.UART1)
	cfg.FifoTrigger = uartdrv.FifoFull
	cfg.Interrupts = true
	cfg.Priority = 2
	u := openEnabled(t, d, cfg)

	p := make([]byte, 4)
	bus.Inject(uartdrv.UART1, []byte("ABCD")...)
	n, err := u.TryGets(p)
	require.NoError(t, err)
	require.Equal(t, "ABCD", string(p[:n]))

	bus.Inject(uartdrv.UART1, []byte("EFGH")...)
	n, err = u.TryGets(p)
	require.NoError(t, err)
	require.Equal(t, "EFGH", string(p[:n]))
	require.Zero(t, d.Stats(uartdrv.UART1).Dropped)
}

func TestInterrupt_BurstLargerThanBufferTruncates(t *testing.T) {
	d, bus := newTestDriver(t)
	rec := &recorder{}
	cfg := baseConfig(uartdrv.UART1)
	cfg.FifoTrigger = uartdrv.FifoFull
	cfg.BufferSize = 2
	cfg.Interrupts = true
	cfg.Priority = 2
	cfg.OnReceive = rec.handle
	u := openEnabled(t, d, cfg)

	bus.Inject(uartdrv.UART1, []byte("wxyz")...)
	require.Equal(t, [][]byte{[]byte("wx")}, rec.snapshot())
	require.Equal(t, 2, u.Buffered())

	st := d.Stats(uartdrv.UART1)
	require.Equal(t, uint32(4), st.Bytes)
	require.Equal(t, uint32(2), st.Dropped)

	snap, idx, err := u.Snapshot()
	require.NoError(t, err)
	require.Equal(t, 2, idx)
	require.Equal(t, "wx", string(snap))
}

func TestDisableInterrupt_BufferedBytesStayReadable(t *testing.T) {
	d, bus := newTestDriver(t)
	cfg := baseConfig(uartdrv.UART1)
	cfg.Interrupts = true
	cfg.Priority = 3
	cfg.Timeout = 100 * time.Millisecond
	u := openEnabled(t, d, cfg)

	bus.Inject(uartdrv.UART1, 'a')
	require.Equal(t, 1, u.Buffered())
	require.NoError(t, u.DisableInterrupt())

	b, err := u.TryGet()
	require.NoError(t, err)
	require.Equal(t, byte('a'), b)
	require.Zero(t, u.Buffered())

	// Polled from here on.
	bus.Inject(uartdrv.UART1, 'b')
	require.Zero(t, u.Buffered())
	b, err = u.Get()
	require.NoError(t, err)
	require.Equal(t, byte('b'), b)
}

func TestDisableInterrupt_GetDrainsBuffer(t *testing.T) {
	d, bus := newTestDriver(t)
	cfg := baseConfig(uartdrv.UART1)
	cfg.FifoTrigger = uartdrv.FifoThreeQuarter
	cfg.Interrupts = true
	cfg.Priority = 3
	cfg.Timeout = 100 * time.Millisecond
	u := openEnabled(t, d, cfg)

	bus.Inject(uartdrv.UART1, []byte("xyz")...)
	require.NoError(t, u.DisableInterrupt())

	p := make([]byte, 3)
	n, err := u.Gets(p)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "xyz", string(p))
}

func TestInterrupt_OverrunClearedAndCounted(t *testing.T) {
	d, bus := newTestDriver(t)
	cfg := baseConfig(uartdrv.UART2)
	cfg.Interrupts = true
	cfg.Priority = 4
	u := openEnabled(t, d, cfg)

	bus.Overrun(uartdrv.UART2)
	require.Equal(t, uint32(1), d.Stats(uartdrv.UART2).Overruns)

	regs, err := d.DebugRegs(uartdrv.UART2)
	require.NoError(t, err)
	require.Zero(t, regs.Status&uint32(uartdrv.StatusOERR))

	// Reception resumes once OERR is cleared.
	bus.Inject(uartdrv.UART2, 'k')
	b, err := u.TryGet()
	require.NoError(t, err)
	require.Equal(t, byte('k'), b)
}

func TestInterrupt_DevicesUseOwnReceiveRegister(t *testing.T) {
	d, bus := newTestDriver(t)
	rec1, rec2 := &recorder{}, &recorder{}

	cfg1 := baseConfig(uartdrv.UART1)
	cfg1.Interrupts, cfg1.Priority, cfg1.OnReceive = true, 3, rec1.handle
	openEnabled(t, d, cfg1)

	cfg2 := baseConfig(uartdrv.UART2)
	cfg2.Interrupts, cfg2.Priority, cfg2.OnReceive = true, 3, rec2.handle
	u2 := openEnabled(t, d, cfg2)

	bus.Inject(uartdrv.UART1, 'a')
	bus.Inject(uartdrv.UART2, 'b')

	require.Equal(t, [][]byte{{'a'}}, rec1.snapshot())
	require.Equal(t, [][]byte{{'b'}}, rec2.snapshot())

	// The next burst overwrites the unread one from offset zero.
	bus.Inject(uartdrv.UART2, 'c')
	calls := rec2.snapshot()
	require.Equal(t, []byte("c"), calls[len(calls)-1])
	require.Equal(t, 1, u2.Buffered())
	snap, idx, err := u2.Snapshot()
	require.NoError(t, err)
	require.Equal(t, 1, idx)
	require.Equal(t, byte('c'), snap[0])
	require.Zero(t, d.Stats(uartdrv.UART1).Dropped)
	require.Equal(t, uint32(1), d.Stats(uartdrv.UART2).Dropped)
}

func TestSetOnReceive_ReplacesHandler(t *testing.T) {
	d, bus := newTestDriver(t)
	first, second := &recorder{}, &recorder{}
	cfg := baseConfig(uartdrv.UART1)
	cfg.Interrupts, cfg.Priority, cfg.OnReceive = true, 3, first.handle
	u := openEnabled(t, d, cfg)

	bus.Inject(uartdrv.UART1, '1')
	require.NoError(t, u.SetOnReceive(second.handle))
	bus.Inject(uartdrv.UART1, '2')
	require.NoError(t, u.SetOnReceive(nil))
	bus.Inject(uartdrv.UART1, '3')

	require.Equal(t, [][]byte{{'1'}}, first.snapshot())
	require.Equal(t, [][]byte{{'2'}}, second.snapshot())
	require.Equal(t, uint32(2), d.Stats(uartdrv.UART1).Callbacks)

	// Still buffered without a handler.
	b, err := u.TryGet()
	require.NoError(t, err)
	require.Equal(t, byte('3'), b)
}

func TestFlush_Idempotent(t *testing.T) {
	d, bus := newTestDriver(t)
	cfg := baseConfig(uartdrv.UART1)
	cfg.BufferSize = 8
	cfg.FifoTrigger = uartdrv.FifoThreeQuarter
	cfg.Interrupts, cfg.Priority = true, 3
	u := openEnabled(t, d, cfg)

	bus.Inject(uartdrv.UART1, 1, 2, 3)
	require.Equal(t, 3, u.Buffered())

	for i := 0; i < 2; i++ {
		require.NoError(t, u.Flush())
		snap, idx, err := u.Snapshot()
		require.NoError(t, err)
		require.Zero(t, idx)
		require.True(t, bytes.Equal(make([]byte, 8), snap), "buffer not zeroed: %v", snap)
	}
	_, err := u.TryGet()
	require.ErrorIs(t, err, uartdrv.ErrNoData)
}

func TestConfigSetters(t *testing.T) {
	d, _ := newTestDriver(t)
	cfg := baseConfig(uartdrv.UART2)
	cfg.HighSpeed = true
	u := openEnabled(t, d, cfg)

	require.NoError(t, u.SetBaud(uartdrv.Baud57600))
	require.NoError(t, u.SetDataFormat(uartdrv.EvenParity8Bit))
	require.NoError(t, u.SetStopBits(uartdrv.TwoStop))
	require.NoError(t, u.SetFifoTrigger(uartdrv.FifoThreeQuarter))
	require.NoError(t, u.EnableInterrupt(6))

	regs, err := d.DebugRegs(uartdrv.UART2)
	require.NoError(t, err)
	div, _ := uartdrv.CalculateBaud(uartdrv.Baud57600, true)
	require.Equal(t, uint32(div), regs.Baud)
	require.NotZero(t, regs.Mode&uint32(uartdrv.ModeBRGH))
	require.Equal(t, uartdrv.EvenParity8Bit, uartdrv.FormatFromMode(regs.Mode))
	require.NotZero(t, regs.Mode&uint32(uartdrv.ModeSTSEL))
	require.Equal(t, uartdrv.FifoThreeQuarter, uartdrv.TriggerFromStatus(regs.Status))
	require.Equal(t, uint32(6<<2), regs.IPC&0x1F)
	require.NotZero(t, regs.IEC&(1<<9))

	require.NoError(t, u.DisableInterrupt())
	regs, _ = d.DebugRegs(uartdrv.UART2)
	require.Zero(t, regs.IEC&(1<<9))

	require.ErrorIs(t, u.SetBaud(300), uartdrv.ErrConfiguration)
	require.ErrorIs(t, u.SetDataFormat(4), uartdrv.ErrConfiguration)
	require.ErrorIs(t, u.SetStopBits(5), uartdrv.ErrConfiguration)
	require.ErrorIs(t, u.SetFifoTrigger(1), uartdrv.ErrConfiguration)
	require.ErrorIs(t, u.EnableInterrupt(0), uartdrv.ErrConfiguration)
}

func TestDestroy_ClearsRegistry(t *testing.T) {
	d, bus := newTestDriver(t)
	u, err := d.Open(baseConfig(uartdrv.UART1))
	require.NoError(t, err)
	require.NoError(t, u.Enable())
	require.True(t, d.Bound(uartdrv.UART1))

	bus.Inject(uartdrv.UART1, 'q', 'r')
	require.NoError(t, u.Destroy())
	require.False(t, d.Bound(uartdrv.UART1))

	regs, err := d.DebugRegs(uartdrv.UART1)
	require.NoError(t, err)
	require.Zero(t, regs.Mode&uint32(uartdrv.ModeON))
	require.Zero(t, regs.IEC)

	// A spurious interrupt after teardown drains into nobody.
	require.NotPanics(t, func() { d.ServiceInterrupt(uartdrv.VectorUART1) })
	require.Equal(t, uint32(1), d.Stats(uartdrv.UART1).Unclaimed)

	require.ErrorIs(t, u.Destroy(), uartdrv.ErrClosed)
	require.ErrorIs(t, u.TryPut('x'), uartdrv.ErrClosed)
	_, err = u.TryGets(make([]byte, 1))
	require.ErrorIs(t, err, uartdrv.ErrClosed)
	require.ErrorIs(t, u.Flush(), uartdrv.ErrClosed)
}

func TestDestroy_WakesBlockedGet(t *testing.T) {
	d, _ := newTestDriver(t)
	cfg := baseConfig(uartdrv.UART1)
	cfg.Interrupts, cfg.Priority = true, 3
	u, err := d.Open(cfg)
	require.NoError(t, err)
	require.NoError(t, u.Enable())

	done := make(chan error, 1)
	go func() {
		_, err := u.Get()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, u.Destroy())

	select {
	case err := <-done:
		require.ErrorIs(t, err, uartdrv.ErrClosed)
	case <-time.After(300 * time.Millisecond):
		t.Fatal("Get did not return after Destroy")
	}
}

func TestServiceInterrupt_UnknownVectorIgnored(t *testing.T) {
	d, _ := newTestDriver(t)
	require.NotPanics(t, func() { d.ServiceInterrupt(99) })
	require.Equal(t, uartdrv.Stats{}, d.Stats(uartdrv.UART1))
	require.Equal(t, uartdrv.Stats{}, d.Stats(uartdrv.UART2))
}

func TestWithTrace_SeesEveryBurst(t *testing.T) {
	bus := sim.New()
	var bursts [][]byte
	d := uartdrv.NewDriver(bus, uartdrv.WithClock(uartdrv.DefaultClockHz), uartdrv.WithTrace(func(_ uartdrv.Device, b []byte) {
		bursts = append(bursts, append([]byte(nil), b...))
	}))
	bus.Attach(d)

	cfg := baseConfig(uartdrv.UART1)
	cfg.FifoTrigger = uartdrv.FifoThreeQuarter
	cfg.Interrupts, cfg.Priority = true, 3
	openEnabled(t, d, cfg)

	bus.Inject(uartdrv.UART1, []byte("abcdef")...)
	require.Equal(t, [][]byte{[]byte("abc"), []byte("def")}, bursts)
}

func TestResetStats(t *testing.T) {
	d, bus := newTestDriver(t)
	cfg := baseConfig(uartdrv.UART2)
	cfg.Interrupts, cfg.Priority = true, 3
	openEnabled(t, d, cfg)

	bus.Inject(uartdrv.UART2, 'a', 'b')
	require.Equal(t, uint32(2), d.Stats(uartdrv.UART2).Bytes)

	d.ResetStats(uartdrv.UART2)
	require.Equal(t, uartdrv.Stats{}, d.Stats(uartdrv.UART2))
	require.Equal(t, uartdrv.Stats{}, d.Stats(uartdrv.Device(5)))
}
