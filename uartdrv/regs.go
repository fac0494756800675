package uartdrv

// Register is a 32-bit peripheral register. The method set matches
// runtime/volatile.Register32 so memory-mapped and simulated registers are
// interchangeable.
type Register interface {
	Get() uint32
	Set(v uint32)
	SetBits(mask uint32)
	ClearBits(mask uint32)
	HasBits(mask uint32) bool
}

// Port is the register block of a single UART peripheral.
type Port interface {
	Mode() Register   // UxMODE
	Status() Register // UxSTA
	Baud() Register   // UxBRG
	TxReg() Register  // UxTXREG
	RxReg() Register  // UxRXREG
}

// InterruptState is the opaque value returned by Bus.DisableInterrupts.
type InterruptState uintptr

// Bus is the hardware boundary of the driver: the UART register blocks, the shared
// interrupt flag/enable/priority registers and global interrupt masking.
type Bus interface {
	// Port returns the register block for dev, or nil if the bus has none.
	Port(dev Device) Port
	IFS(n int) Register
	IEC(n int) Register
	IPC(n int) Register

	// DisableInterrupts masks interrupts and returns the previous state. While
	// masked, no ISR runs concurrently with the caller.
	DisableInterrupts() InterruptState
	RestoreInterrupts(state InterruptState)
}

// ModeBits are UxMODE bits.
type ModeBits uint32

const (
	ModeSTSEL  ModeBits = 1 << 0
	ModePDSEL0 ModeBits = 1 << 1
	ModePDSEL1 ModeBits = 1 << 2
	ModeBRGH   ModeBits = 1 << 3
	ModeLPBACK ModeBits = 1 << 6
	ModeON     ModeBits = 1 << 15

	ModePDSEL = ModePDSEL0 | ModePDSEL1
)

// StatusBits are UxSTA bits.
type StatusBits uint32

const (
	StatusURXDA StatusBits = 1 << 0
	StatusOERR  StatusBits = 1 << 1
	StatusFERR  StatusBits = 1 << 2
	StatusPERR  StatusBits = 1 << 3
	StatusRIDLE StatusBits = 1 << 4
	StatusTRMT  StatusBits = 1 << 8
	StatusUTXBF StatusBits = 1 << 9
	StatusUTXEN StatusBits = 1 << 10
	StatusURXEN StatusBits = 1 << 12

	StatusURXISELPos           = 6
	StatusURXISEL   StatusBits = 3 << StatusURXISELPos
)

// pdsel returns the PDSEL pattern for f.
func (f DataFormat) pdsel() ModeBits {
	switch f {
	case NoParity9Bit:
		return ModePDSEL1 | ModePDSEL0
	case OddParity8Bit:
		return ModePDSEL1
	case EvenParity8Bit:
		return ModePDSEL0
	}
	return 0
}

// FormatFromMode decodes the PDSEL field of a UxMODE value.
func FormatFromMode(mode uint32) DataFormat {
	switch ModeBits(mode) & ModePDSEL {
	case ModePDSEL1 | ModePDSEL0:
		return NoParity9Bit
	case ModePDSEL1:
		return OddParity8Bit
	case ModePDSEL0:
		return EvenParity8Bit
	}
	return NoParity8Bit
}

// TriggerFromStatus decodes the URXISEL field of a UxSTA value.
func TriggerFromStatus(sta uint32) FifoTrigger {
	return FifoTrigger((StatusBits(sta) & StatusURXISEL) >> StatusURXISELPos)
}

// Vector is a hardware interrupt vector number.
type Vector uint8

const (
	VectorUART1 Vector = 24
	VectorUART2 Vector = 32
)

// irqLine locates a device's interrupt bits in the shared IFS/IEC/IPC registers.
type irqLine struct {
	vector   Vector
	flagReg  int    // IFSn / IECn index
	errBit   uint32 // UxEIF
	rxBit    uint32 // UxRXIF
	txBit    uint32 // UxTXIF
	ipcReg   int    // IPCn index
	ipcShift uint   // UxIS at shift, UxIP at shift+2
}

func (l *irqLine) allFlags() uint32 { return l.errBit | l.rxBit | l.txBit }

func (l *irqLine) priorityMask() uint32 { return 0x1F << l.ipcShift }

func (l *irqLine) priority(prio, sub uint8) uint32 {
	return (uint32(prio&7)<<2 | uint32(sub&3)) << l.ipcShift
}

var irqLines = [NumDevices]irqLine{
	UART1: {vector: VectorUART1, flagReg: 0, errBit: 1 << 26, rxBit: 1 << 27, txBit: 1 << 28, ipcReg: 6, ipcShift: 0},
	UART2: {vector: VectorUART2, flagReg: 1, errBit: 1 << 8, rxBit: 1 << 9, txBit: 1 << 10, ipcReg: 8, ipcShift: 0},
}

// IRQInfo is the receive-side interrupt wiring of a device.
type IRQInfo struct {
	Vector  Vector
	FlagReg int // IFSn / IECn index
	RxBit   uint32
	ErrBit  uint32
}

// IRQ describes the interrupt wiring of dev; ok is false for unsupported devices.
// Simulated buses use it to decide when an interrupt is pending.
func IRQ(dev Device) (IRQInfo, bool) {
	if !dev.Valid() {
		return IRQInfo{}, false
	}
	l := &irqLines[dev]
	return IRQInfo{Vector: l.vector, FlagReg: l.flagReg, RxBit: l.rxBit, ErrBit: l.errBit}, true
}

// DeviceForVector maps a hardware vector back to its device.
func DeviceForVector(v Vector) (Device, bool) {
	for d := range irqLines {
		if irqLines[d].vector == v {
			return Device(d), true
		}
	}
	return 0, false
}
