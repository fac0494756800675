package uartdrv

import (
	"time"

	"go.uber.org/atomic"
)

// UART is a configured UART instance. The caller owns it exclusively and must
// call Destroy exactly once. Operations on one handle are not synchronised with
// each other; serialise them in the caller.
type UART struct {
	drv  *Driver
	dev  Device
	port Port
	line *irqLine

	subPriority uint8
	timeout     time.Duration
	baud        BaudRate

	buf    *rxBuffer
	notify chan struct{} // coalesced RX notifications from the ISR
	done   chan struct{} // closed by Destroy

	interrupts atomic.Bool
	enabled    atomic.Bool
	closed     atomic.Bool
}

// Open validates cfg, binds a new handle to cfg.Device and programs the
// peripheral: baud divisor, data format, stop bits, FIFO trigger, optional
// receive interrupt, then the ON bit. Transmit and receive stay off until Enable.
//
// Every field is validated before the first register write. Register writes are
// not rolled back; a failure after binding cannot happen because register access
// itself cannot fail.
func (d *Driver) Open(cfg Config) (*UART, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	div, err := Divisor(d.clockHz, uint32(cfg.Baud), cfg.HighSpeed)
	if err != nil {
		return nil, err
	}
	port := d.bus.Port(cfg.Device)
	if port == nil {
		return nil, ErrUnsupportedDevice
	}

	u := &UART{
		drv:         d,
		dev:         cfg.Device,
		port:        port,
		line:        &irqLines[cfg.Device],
		subPriority: cfg.SubPriority,
		timeout:     cfg.Timeout,
		baud:        cfg.Baud,
		buf:         newRxBuffer(cfg.BufferSize),
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	if err := d.bind(u, cfg.OnReceive); err != nil {
		return nil, err
	}

	mode := port.Mode()
	mode.ClearBits(uint32(ModeON))
	port.Status().ClearBits(uint32(StatusUTXEN | StatusURXEN))

	u.writeBaud(div, cfg.HighSpeed)
	u.writeDataFormat(cfg.DataFormat)
	u.writeStopBits(cfg.StopBits)
	u.writeFifoTrigger(cfg.FifoTrigger)
	if cfg.Loopback {
		mode.SetBits(uint32(ModeLPBACK))
	} else {
		mode.ClearBits(uint32(ModeLPBACK))
	}

	// Purge stale RX bytes and a sticky overrun left by a previous owner.
	for port.Status().HasBits(uint32(StatusURXDA)) {
		_ = port.RxReg().Get()
	}
	port.Status().ClearBits(uint32(StatusOERR))

	if cfg.Interrupts {
		u.writeInterrupt(cfg.Priority, cfg.SubPriority)
	}
	mode.SetBits(uint32(ModeON))
	return u, nil
}

// Device returns the peripheral the handle is bound to.
func (u *UART) Device() Device { return u.dev }

// Enable turns on the transmit and receive paths.
func (u *UART) Enable() error {
	if err := u.check(); err != nil {
		return err
	}
	u.port.Status().SetBits(uint32(StatusUTXEN | StatusURXEN))
	u.enabled.Store(true)
	return nil
}

// Disable turns off the transmit and receive paths; configuration is kept.
func (u *UART) Disable() error {
	if err := u.check(); err != nil {
		return err
	}
	u.enabled.Store(false)
	u.port.Status().ClearBits(uint32(StatusUTXEN | StatusURXEN))
	return nil
}

// Destroy unregisters the handle from the driver tables, masks its interrupt,
// switches the peripheral off and releases the buffer. Waiters blocked in Get or
// Gets return ErrClosed. Any further call on u returns ErrClosed.
func (u *UART) Destroy() error {
	if u == nil || u.drv == nil || u.port == nil {
		return ErrInvalidDevice
	}
	if u.closed.Swap(true) {
		return ErrClosed
	}
	d := u.drv
	d.unbind(u)

	d.bus.IEC(u.line.flagReg).ClearBits(u.line.allFlags())
	u.port.Status().ClearBits(uint32(StatusUTXEN | StatusURXEN))
	u.port.Mode().ClearBits(uint32(ModeON))
	d.bus.IFS(u.line.flagReg).ClearBits(u.line.allFlags())

	u.enabled.Store(false)
	u.interrupts.Store(false)
	d.critical(func() { u.buf = nil })
	close(u.done)
	return nil
}

// check rejects handles that were never opened or have been destroyed.
func (u *UART) check() error {
	if u == nil || u.drv == nil || u.port == nil || !u.dev.Valid() {
		return ErrInvalidDevice
	}
	if u.closed.Load() {
		return ErrClosed
	}
	return nil
}

// ready is check plus the Enable requirement of the transmit/receive API.
func (u *UART) ready() error {
	if err := u.check(); err != nil {
		return err
	}
	if !u.enabled.Load() {
		return ErrNotEnabled
	}
	return nil
}
