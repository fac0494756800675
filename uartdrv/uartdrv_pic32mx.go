//go:build tinygo && pic32mx

package uartdrv

import (
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"
)

// PIC32MX peripheral registers have CLR, SET and INV aliases at +4, +8 and +C.
const (
	clrOffset = 0x4
	setOffset = 0x8
)

// KSEG1 (uncached) addresses of the UART and interrupt controller registers.
const (
	uart1Base = 0xBF806000
	uart2Base = 0xBF806200

	uxMODE   = 0x00
	uxSTA    = 0x10
	uxTXREG  = 0x20
	uxRXREG  = 0x30
	uxBRG    = 0x40
	ifs0Addr = 0xBF881030
	iec0Addr = 0xBF881060
	ipc0Addr = 0xBF881090
	regPitch = 0x10
)

// mmioReg is a register with hardware set/clear aliases.
type mmioReg uintptr

func (r mmioReg) at(off uintptr) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(uintptr(r) + off))
}

func (r mmioReg) Get() uint32              { return r.at(0).Get() }
func (r mmioReg) Set(v uint32)             { r.at(0).Set(v) }
func (r mmioReg) SetBits(mask uint32)      { r.at(setOffset).Set(mask) }
func (r mmioReg) ClearBits(mask uint32)    { r.at(clrOffset).Set(mask) }
func (r mmioReg) HasBits(mask uint32) bool { return r.Get()&mask != 0 }

type mmioPort uintptr

func (p mmioPort) Mode() Register   { return mmioReg(uintptr(p) + uxMODE) }
func (p mmioPort) Status() Register { return mmioReg(uintptr(p) + uxSTA) }
func (p mmioPort) Baud() Register   { return mmioReg(uintptr(p) + uxBRG) }
func (p mmioPort) TxReg() Register  { return mmioReg(uintptr(p) + uxTXREG) }
func (p mmioPort) RxReg() Register  { return mmioReg(uintptr(p) + uxRXREG) }

// mmioBus is the on-chip register bus.
type mmioBus struct{}

func (mmioBus) Port(dev Device) Port {
	switch dev {
	case UART1:
		return mmioPort(uart1Base)
	case UART2:
		return mmioPort(uart2Base)
	}
	return nil
}

func (mmioBus) IFS(n int) Register { return mmioReg(ifs0Addr + uintptr(n)*regPitch) }
func (mmioBus) IEC(n int) Register { return mmioReg(iec0Addr + uintptr(n)*regPitch) }
func (mmioBus) IPC(n int) Register { return mmioReg(ipc0Addr + uintptr(n)*regPitch) }

func (mmioBus) DisableInterrupts() InterruptState {
	return InterruptState(interrupt.Disable())
}

func (mmioBus) RestoreInterrupts(s InterruptState) {
	interrupt.Restore(interrupt.State(s))
}

// Default drives the on-chip UARTs.
var Default = NewDriver(mmioBus{})

func init() {
	interrupt.New(int(VectorUART1), func(interrupt.Interrupt) { Default.ServiceInterrupt(VectorUART1) })
	interrupt.New(int(VectorUART2), func(interrupt.Interrupt) { Default.ServiceInterrupt(VectorUART2) })
}
