package uartdrv

import "go.uber.org/atomic"

// counters are updated from interrupt context and read from task context.
type counters struct {
	interrupts atomic.Uint32
	bytes      atomic.Uint32
	callbacks  atomic.Uint32
	overruns   atomic.Uint32
	dropped    atomic.Uint32
	unclaimed  atomic.Uint32
}

// Stats holds per-device counters since the driver was created or last reset.
type Stats struct {
	Interrupts uint32 // ISR entries
	Bytes      uint32 // bytes drained from the hardware FIFO
	Callbacks  uint32 // ReceiveHandler invocations
	Overruns   uint32 // OERR conditions cleared by the ISR
	Dropped    uint32 // unread bytes overwritten by a newer burst, or past the buffer size
	Unclaimed  uint32 // bursts drained while no handle was bound
}

// Stats returns a snapshot of the counters for dev.
func (d *Driver) Stats(dev Device) Stats {
	if !dev.Valid() {
		return Stats{}
	}
	c := &d.stats[dev]
	return Stats{
		Interrupts: c.interrupts.Load(),
		Bytes:      c.bytes.Load(),
		Callbacks:  c.callbacks.Load(),
		Overruns:   c.overruns.Load(),
		Dropped:    c.dropped.Load(),
		Unclaimed:  c.unclaimed.Load(),
	}
}

// ResetStats zeroes the counters for dev.
func (d *Driver) ResetStats(dev Device) {
	if !dev.Valid() {
		return
	}
	c := &d.stats[dev]
	c.interrupts.Store(0)
	c.bytes.Store(0)
	c.callbacks.Store(0)
	c.overruns.Store(0)
	c.dropped.Store(0)
	c.unclaimed.Store(0)
}

// Regs is a snapshot of the registers that matter when debugging a device.
type Regs struct {
	Mode   uint32
	Status uint32
	Baud   uint32
	IFS    uint32
	IEC    uint32
	IPC    uint32
}

// DebugRegs reads the register block and interrupt registers of dev.
func (d *Driver) DebugRegs(dev Device) (Regs, error) {
	if !dev.Valid() {
		return Regs{}, ErrUnsupportedDevice
	}
	p := d.bus.Port(dev)
	if p == nil {
		return Regs{}, ErrUnsupportedDevice
	}
	l := &irqLines[dev]
	return Regs{
		Mode:   p.Mode().Get(),
		Status: p.Status().Get(),
		Baud:   p.Baud().Get(),
		IFS:    d.bus.IFS(l.flagReg).Get(),
		IEC:    d.bus.IEC(l.flagReg).Get(),
		IPC:    d.bus.IPC(l.ipcReg).Get(),
	}, nil
}
