package uartdrv

// ReceiveDispatcher delivers bytes drained by an ISR to whoever owns the device.
type ReceiveDispatcher interface {
	DispatchReceive(dev Device, data []byte)
}

var _ ReceiveDispatcher = (*Driver)(nil)

// DispatchReceive writes data into the buffer registered for dev from offset zero,
// wakes Readable waiters and invokes the registered ReceiveHandler with the new
// burst. Unread bytes of the previous burst are overwritten and counted as
// dropped, as are bytes beyond the buffer size. It must be called in
// interrupt context (or with interrupts masked). With nothing bound the bytes are
// counted as unclaimed and discarded.
func (d *Driver) DispatchReceive(dev Device, data []byte) {
	if !dev.Valid() || len(data) == 0 {
		return
	}
	c := &d.stats[dev]
	c.bytes.Add(uint32(len(data)))

	buf := d.buffers[dev]
	if buf == nil {
		c.unclaimed.Inc()
		return
	}
	overwritten, truncated := buf.Load(data)
	if lost := overwritten + truncated; lost > 0 {
		c.dropped.Add(uint32(lost))
	}
	if u := d.owners[dev]; u != nil {
		select {
		case u.notify <- struct{}{}:
		default:
		}
	}
	if h := d.handlers[dev]; h != nil {
		c.callbacks.Inc()
		h(dev, buf.Unread())
	}
}

// ServiceInterrupt is the vector-level entry point: it maps a hardware vector to
// its device and runs that device's handler. Unknown vectors are ignored.
func (d *Driver) ServiceInterrupt(v Vector) {
	if dev, ok := DeviceForVector(v); ok {
		d.HandleInterrupt(dev)
	}
}

// HandleInterrupt is the receive ISR for dev. It clears a pending overrun, drains
// up to the configured trigger depth from dev's own UxRXREG in FIFO order,
// dispatches the burst and then clears the interrupt flags.
func (d *Driver) HandleInterrupt(dev Device) {
	if !dev.Valid() {
		return
	}
	p := d.bus.Port(dev)
	if p == nil {
		return
	}
	l := &irqLines[dev]
	c := &d.stats[dev]
	c.interrupts.Inc()

	sta := p.Status()
	if sta.HasBits(uint32(StatusOERR)) {
		sta.ClearBits(uint32(StatusOERR))
		c.overruns.Inc()
	}

	depth := TriggerFromStatus(sta.Get()).Depth()
	if depth == 0 {
		depth = 1
	}
	var burst [HardwareFifoDepth]byte
	n := 0
	for n < depth && sta.HasBits(uint32(StatusURXDA)) {
		burst[n] = byte(p.RxReg().Get())
		n++
	}
	if n > 0 {
		if d.trace != nil {
			d.trace(dev, burst[:n])
		}
		d.DispatchReceive(dev, burst[:n])
	}

	d.bus.IFS(l.flagReg).ClearBits(l.rxBit | l.errBit)
}
