package uartdrv

// TraceFunc observes every burst drained by the ISR, before it is dispatched.
// It runs in interrupt context.
type TraceFunc func(dev Device, burst []byte)

// Driver owns a register bus and the device tables the ISR uses to find each
// handle's buffer and callback. Independent drivers over independent buses do not
// share any state.
type Driver struct {
	bus     Bus
	clockHz uint32
	trace   TraceFunc

	// Registry, indexed by device. Written by Open/Destroy/SetOnReceive with
	// interrupts masked, read by the ISR.
	owners   [NumDevices]*UART
	buffers  [NumDevices]*rxBuffer
	handlers [NumDevices]ReceiveHandler

	stats [NumDevices]counters
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock sets the peripheral bus clock used for baud divisors.
func WithClock(hz uint32) Option {
	return func(d *Driver) { d.clockHz = hz }
}

// WithTrace installs a burst observer.
func WithTrace(fn TraceFunc) Option {
	return func(d *Driver) { d.trace = fn }
}

// NewDriver returns a driver for the peripherals on bus.
func NewDriver(bus Bus, opts ...Option) *Driver {
	d := &Driver{bus: bus, clockHz: DefaultClockHz}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ClockHz returns the clock the driver computes divisors from.
func (d *Driver) ClockHz() uint32 { return d.clockHz }

// critical runs fn with interrupts masked.
func (d *Driver) critical(fn func()) {
	s := d.bus.DisableInterrupts()
	defer d.bus.RestoreInterrupts(s)
	fn()
}

// Bound reports whether dev currently has a live handle.
func (d *Driver) Bound(dev Device) bool {
	if !dev.Valid() {
		return false
	}
	var ok bool
	d.critical(func() { ok = d.owners[dev] != nil })
	return ok
}

func (d *Driver) bind(u *UART, onReceive ReceiveHandler) error {
	var err error
	d.critical(func() {
		if d.owners[u.dev] != nil {
			err = ErrDeviceBound
			return
		}
		d.owners[u.dev] = u
		d.buffers[u.dev] = u.buf
		d.handlers[u.dev] = onReceive
	})
	return err
}

func (d *Driver) unbind(u *UART) {
	d.critical(func() {
		if d.owners[u.dev] != u {
			return
		}
		d.owners[u.dev] = nil
		d.buffers[u.dev] = nil
		d.handlers[u.dev] = nil
	})
}
