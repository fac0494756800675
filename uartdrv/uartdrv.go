// Package uartdrv provides a handle-based driver for the PIC32MX UART peripherals.
// A Driver owns the register bus and the per-device receive registry; Open returns
// an opaque UART handle through which the application configures the peripheral,
// transmits and receives bytes without touching registers directly.
//
// Receive runs either polled (the caller spins on URXDA) or interrupt-driven (the
// ISR drains the hardware FIFO into the handle's software buffer and invokes the
// registered ReceiveHandler). Blocking calls spin on hardware status bits or wait on
// the Readable notification; all of them accept a bound via Config.Timeout or a
// context.
package uartdrv

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfiguration reports an invalid or unsupported rate, format or device at setup.
	ErrConfiguration = errors.New("uartdrv: invalid configuration")
	// ErrAllocation reports that the requested software buffer cannot be provided.
	ErrAllocation = errors.New("uartdrv: buffer allocation failed")
	// ErrBusy is returned by non-blocking transmit calls while the TX FIFO is full.
	ErrBusy = errors.New("uartdrv: transmitter busy")
	// ErrNoData is returned by non-blocking receive calls when nothing is available.
	ErrNoData = errors.New("uartdrv: no data")
	// ErrUnsupportedDevice reports a device identity outside the supported set.
	ErrUnsupportedDevice = errors.New("uartdrv: unsupported device")
	// ErrTimeout reports a blocking call that exceeded its bound.
	ErrTimeout = errors.New("uartdrv: timeout")
	// ErrDeviceBound is returned by Open when the device already has a live handle.
	ErrDeviceBound = errors.New("uartdrv: device already bound")
	// ErrClosed is returned by any operation on a destroyed handle.
	ErrClosed = errors.New("uartdrv: handle closed")
	// ErrNotEnabled is returned by transmit/receive calls made before Enable.
	ErrNotEnabled = errors.New("uartdrv: transmitter/receiver not enabled")
)

// ErrInvalidDevice is the name used by the transmit/receive API for ErrUnsupportedDevice.
var ErrInvalidDevice = ErrUnsupportedDevice

// ConfigError describes the configuration field that was rejected.
type ConfigError struct {
	Field string
	Value interface{}
}

// Error implements error.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("uartdrv: invalid %s: %v", e.Field, e.Value)
}

// Unwrap makes errors.Is(err, ErrConfiguration) hold.
func (e *ConfigError) Unwrap() error { return ErrConfiguration }

func configErr(field string, value interface{}) error {
	return &ConfigError{Field: field, Value: value}
}

// Device identifies one of the physical UART peripherals.
type Device uint8

const (
	UART1 Device = iota
	UART2

	// NumDevices is the number of UART peripherals handled by the driver.
	NumDevices = 2
)

// Valid reports whether d names a supported peripheral.
func (d Device) Valid() bool { return d < NumDevices }

func (d Device) String() string {
	switch d {
	case UART1:
		return "UART1"
	case UART2:
		return "UART2"
	}
	return fmt.Sprintf("Device(%d)", uint8(d))
}

// BaudRate is one of the standard symbol rates supported by the driver.
type BaudRate uint32

const (
	Baud1200   BaudRate = 1200
	Baud2400   BaudRate = 2400
	Baud9600   BaudRate = 9600
	Baud19200  BaudRate = 19200
	Baud38400  BaudRate = 38400
	Baud57600  BaudRate = 57600
	Baud115200 BaudRate = 115200
)

// StandardRates lists every supported BaudRate in ascending order.
var StandardRates = []BaudRate{Baud1200, Baud2400, Baud9600, Baud19200, Baud38400, Baud57600, Baud115200}

// Valid reports whether r is one of StandardRates.
func (r BaudRate) Valid() bool {
	for _, s := range StandardRates {
		if r == s {
			return true
		}
	}
	return false
}

// DataFormat selects data width and parity (PDSEL).
type DataFormat uint8

const (
	NoParity9Bit DataFormat = iota
	OddParity8Bit
	EvenParity8Bit
	NoParity8Bit
)

func (f DataFormat) String() string {
	switch f {
	case NoParity9Bit:
		return "9N"
	case OddParity8Bit:
		return "8O"
	case EvenParity8Bit:
		return "8E"
	case NoParity8Bit:
		return "8N"
	}
	return fmt.Sprintf("DataFormat(%d)", uint8(f))
}

// StopBits selects one or two stop bits (STSEL).
type StopBits uint8

const (
	OneStop StopBits = iota
	TwoStop
)

// FifoTrigger selects how full the hardware RX FIFO must be before the receive
// interrupt fires (URXISEL).
type FifoTrigger uint8

const (
	FifoChar         FifoTrigger = 0 // every character
	FifoThreeQuarter FifoTrigger = 2 // three of four slots
	FifoFull         FifoTrigger = 3 // all four slots
)

// HardwareFifoDepth is the depth of the peripheral's RX and TX FIFOs.
const HardwareFifoDepth = 4

// Depth returns the number of bytes the ISR drains for trigger t, or 0 if t is
// not a supported trigger.
func (t FifoTrigger) Depth() int {
	switch t {
	case FifoChar:
		return 1
	case FifoThreeQuarter:
		return 3
	case FifoFull:
		return HardwareFifoDepth
	}
	return 0
}

// ReceiveHandler is invoked from interrupt context after the ISR has written a
// burst into the handle's software buffer from offset zero. data aliases that
// burst and is only valid for the duration of the call; the next interrupt
// overwrites it. Handlers must be interrupt-safe:
// no blocking calls and no calls back into the handle (Flush, Get, TryGets, ...).
type ReceiveHandler func(dev Device, data []byte)

// MaxBufferSize bounds Config.BufferSize.
const MaxBufferSize = 4096

// Config describes a UART instance. The zero value is not valid: Baud and
// BufferSize must be set.
type Config struct {
	Device      Device
	Baud        BaudRate
	HighSpeed   bool // BRGH: ×4 baud clock instead of ×16
	DataFormat  DataFormat
	StopBits    StopBits
	FifoTrigger FifoTrigger
	BufferSize  int // software receive buffer, bytes

	// Interrupts enables the receive interrupt line at Priority/SubPriority. It is
	// independent of how blocking calls wait.
	Interrupts  bool
	Priority    uint8 // 1..7
	SubPriority uint8 // 0..3
	OnReceive   ReceiveHandler

	Loopback bool // LPBACK: TX is routed internally to RX

	// Timeout bounds Put, Puts, Get and Gets. Zero waits forever.
	Timeout time.Duration
}

// Validate checks every field before any register is touched.
func (c *Config) Validate() error {
	if !c.Device.Valid() {
		return fmt.Errorf("%w: %w: %v", ErrConfiguration, ErrUnsupportedDevice, c.Device)
	}
	if !c.Baud.Valid() {
		return configErr("baud rate", uint32(c.Baud))
	}
	if c.DataFormat > NoParity8Bit {
		return configErr("data format", uint8(c.DataFormat))
	}
	if c.StopBits > TwoStop {
		return configErr("stop bits", uint8(c.StopBits))
	}
	if c.FifoTrigger.Depth() == 0 {
		return configErr("fifo trigger", uint8(c.FifoTrigger))
	}
	// A later EnableInterrupt reuses SubPriority, so it is checked either way.
	if c.Priority > 7 || (c.Interrupts && c.Priority == 0) {
		return configErr("interrupt priority", c.Priority)
	}
	if c.SubPriority > 3 {
		return configErr("interrupt sub-priority", c.SubPriority)
	}
	if c.Timeout < 0 {
		return configErr("timeout", c.Timeout)
	}
	if c.BufferSize <= 0 || c.BufferSize > MaxBufferSize {
		return fmt.Errorf("%w: buffer size %d", ErrAllocation, c.BufferSize)
	}
	return nil
}
