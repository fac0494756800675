package uartdrv

// SetBaud reprograms UxBRG for rate, keeping the current speed mode (BRGH).
func (u *UART) SetBaud(rate BaudRate) error {
	if err := u.check(); err != nil {
		return err
	}
	if !rate.Valid() {
		return configErr("baud rate", uint32(rate))
	}
	high := u.port.Mode().HasBits(uint32(ModeBRGH))
	div, err := Divisor(u.drv.clockHz, uint32(rate), high)
	if err != nil {
		return err
	}
	u.writeBaud(div, high)
	u.baud = rate
	return nil
}

// SetDataFormat selects data width and parity.
func (u *UART) SetDataFormat(f DataFormat) error {
	if err := u.check(); err != nil {
		return err
	}
	if f > NoParity8Bit {
		return configErr("data format", uint8(f))
	}
	u.writeDataFormat(f)
	return nil
}

// SetStopBits selects one or two stop bits.
func (u *UART) SetStopBits(s StopBits) error {
	if err := u.check(); err != nil {
		return err
	}
	if s > TwoStop {
		return configErr("stop bits", uint8(s))
	}
	u.writeStopBits(s)
	return nil
}

// SetFifoTrigger selects the RX FIFO level that raises the receive interrupt and,
// with it, how many bytes each ISR invocation drains.
func (u *UART) SetFifoTrigger(t FifoTrigger) error {
	if err := u.check(); err != nil {
		return err
	}
	if t.Depth() == 0 {
		return configErr("fifo trigger", uint8(t))
	}
	u.writeFifoTrigger(t)
	return nil
}

// EnableInterrupt unmasks the receive interrupt at priority (1..7).
func (u *UART) EnableInterrupt(priority uint8) error {
	if err := u.check(); err != nil {
		return err
	}
	if priority < 1 || priority > 7 {
		return configErr("interrupt priority", priority)
	}
	u.writeInterrupt(priority, u.subPriority)
	return nil
}

// DisableInterrupt masks the receive interrupt. Receive calls fall back to
// polling the hardware FIFO; bytes already in the software buffer stay readable.
func (u *UART) DisableInterrupt() error {
	if err := u.check(); err != nil {
		return err
	}
	u.drv.bus.IEC(u.line.flagReg).ClearBits(u.line.rxBit | u.line.errBit)
	u.interrupts.Store(false)
	return nil
}

// SetOnReceive replaces the handler invoked by the ISR. A nil handler disables
// notification; received bytes are still buffered.
func (u *UART) SetOnReceive(fn ReceiveHandler) error {
	if err := u.check(); err != nil {
		return err
	}
	d := u.drv
	d.critical(func() {
		if d.owners[u.dev] == u {
			d.handlers[u.dev] = fn
		}
	})
	return nil
}

func (u *UART) writeBaud(div uint16, highSpeed bool) {
	if highSpeed {
		u.port.Mode().SetBits(uint32(ModeBRGH))
	} else {
		u.port.Mode().ClearBits(uint32(ModeBRGH))
	}
	u.port.Baud().Set(uint32(div))
}

func (u *UART) writeDataFormat(f DataFormat) {
	bits := f.pdsel()
	mode := u.port.Mode()
	if clr := ModePDSEL &^ bits; clr != 0 {
		mode.ClearBits(uint32(clr))
	}
	if bits != 0 {
		mode.SetBits(uint32(bits))
	}
}

func (u *UART) writeStopBits(s StopBits) {
	if s == TwoStop {
		u.port.Mode().SetBits(uint32(ModeSTSEL))
	} else {
		u.port.Mode().ClearBits(uint32(ModeSTSEL))
	}
}

func (u *UART) writeFifoTrigger(t FifoTrigger) {
	sta := u.port.Status()
	sta.ClearBits(uint32(StatusURXISEL))
	if t != 0 {
		sta.SetBits(uint32(t) << StatusURXISELPos)
	}
}

// writeInterrupt clears stale flags, programs priority/sub-priority and unmasks
// the receive (and error) interrupt of the device.
func (u *UART) writeInterrupt(priority, sub uint8) {
	bus := u.drv.bus
	l := u.line
	bus.IFS(l.flagReg).ClearBits(l.allFlags())
	ipc := bus.IPC(l.ipcReg)
	ipc.ClearBits(l.priorityMask())
	ipc.SetBits(l.priority(priority, sub))
	u.interrupts.Store(true)
	bus.IEC(l.flagReg).SetBits(l.rxBit | l.errBit)
}
