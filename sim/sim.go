// Package sim is a simulated register file for the uartdrv driver. A Bus models
// each UART's mode, status, baud, TX and RX registers with 4-deep hardware FIFOs,
// the shared interrupt flag/enable/priority registers, and runs the attached ISR
// synchronously whenever a receive interrupt is both flagged and enabled.
//
// Bytes arrive through Inject (or through the internal loopback when LPBACK is
// set) and wait on the "line" until the RX FIFO has room. Bytes written to TXREG
// shift out immediately unless the transmitter is stalled with StallTx.
package sim

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/jangala-dev/tinygo-uartdrv/uartdrv"
)

const numIntRegs = 12

var _ uartdrv.Bus = (*Bus)(nil)

// Servicer is the vector-level interrupt entry point, normally a *uartdrv.Driver.
type Servicer interface {
	ServiceInterrupt(v uartdrv.Vector)
}

// Bus implements uartdrv.Bus.
type Bus struct {
	mu    sync.Mutex // register state
	cpu   sync.Mutex // held while an ISR runs or interrupts are disabled
	retry atomic.Bool

	ports         [uartdrv.NumDevices]*port
	ifs, iec, ipc [numIntRegs]uint32

	target Servicer
	out    []outByte // transmitted bytes waiting for their OnTransmit hook
}

type outByte struct {
	fn func(byte)
	b  byte
}

// Option configures a Bus.
type Option func(*Bus)

// WithDevices populates only the given devices; others read as absent.
func WithDevices(devs ...uartdrv.Device) Option {
	return func(b *Bus) {
		b.ports = [uartdrv.NumDevices]*port{}
		for _, d := range devs {
			if d.Valid() {
				b.ports[d] = newPort(b, d)
			}
		}
	}
}

// New returns a bus with every device populated.
func New(opts ...Option) *Bus {
	b := &Bus{}
	for d := range b.ports {
		b.ports[d] = newPort(b, uartdrv.Device(d))
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach sets the interrupt target. Pending interrupts are evaluated at once.
func (b *Bus) Attach(s Servicer) {
	b.mu.Lock()
	b.target = s
	b.mu.Unlock()
	b.after()
}

// Port implements uartdrv.Bus.
func (b *Bus) Port(dev uartdrv.Device) uartdrv.Port {
	if !dev.Valid() || b.ports[dev] == nil {
		return nil
	}
	return b.ports[dev].regs
}

// IFS implements uartdrv.Bus.
func (b *Bus) IFS(n int) uartdrv.Register { return b.intReg(&b.ifs, n) }

// IEC implements uartdrv.Bus.
func (b *Bus) IEC(n int) uartdrv.Register { return b.intReg(&b.iec, n) }

// IPC implements uartdrv.Bus.
func (b *Bus) IPC(n int) uartdrv.Register { return b.intReg(&b.ipc, n) }

func (b *Bus) intReg(file *[numIntRegs]uint32, n int) uartdrv.Register {
	if n < 0 || n >= numIntRegs {
		return &reg{b: b, read: func() uint32 { return 0 }, write: func(uint32) {}}
	}
	return &reg{
		b:     b,
		read:  func() uint32 { return file[n] },
		write: func(v uint32) { file[n] = v },
	}
}

// DisableInterrupts implements uartdrv.Bus. It is not reentrant: an ISR must not
// call it.
func (b *Bus) DisableInterrupts() uartdrv.InterruptState {
	b.cpu.Lock()
	return 0
}

// RestoreInterrupts implements uartdrv.Bus and services anything that became
// pending while masked.
func (b *Bus) RestoreInterrupts(uartdrv.InterruptState) {
	b.cpu.Unlock()
	b.after()
}

// after runs once register state has changed: it delivers transmitted bytes to
// their hooks and services pending interrupts.
func (b *Bus) after() {
	b.flushOut()
	b.poll()
}

// poll runs the target ISR while a receive interrupt is flagged and enabled.
// When the CPU is busy (ISR running or interrupts masked) it leaves a retry mark;
// whoever releases the CPU polls again.
func (b *Bus) poll() {
	for {
		b.retry.Store(true)
		if !b.cpu.TryLock() {
			return
		}
		b.retry.Store(false)
		v, target, ok := b.nextVector()
		if !ok {
			b.cpu.Unlock()
			if b.retry.Load() {
				continue
			}
			return
		}
		target.ServiceInterrupt(v)
		b.cpu.Unlock()
		b.flushOut()
	}
}

func (b *Bus) flushOut() {
	b.mu.Lock()
	out := b.out
	b.out = nil
	b.mu.Unlock()
	for _, o := range out {
		o.fn(o.b)
	}
}

// nextVector raises receive flags for devices whose FIFO reached the trigger
// level, error flags for latched overruns, and returns the first vector with a
// flagged and enabled source.
func (b *Bus) nextVector() (uartdrv.Vector, Servicer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.target == nil {
		return 0, nil, false
	}
	for d, p := range b.ports {
		if p == nil {
			continue
		}
		irq, _ := uartdrv.IRQ(uartdrv.Device(d))
		if p.rxReady() {
			b.ifs[irq.FlagReg] |= irq.RxBit
		}
		if p.overrun() {
			b.ifs[irq.FlagReg] |= irq.ErrBit
		}
		if b.ifs[irq.FlagReg]&b.iec[irq.FlagReg]&(irq.RxBit|irq.ErrBit) != 0 {
			return irq.Vector, b.target, true
		}
	}
	return 0, nil, false
}

// Inject delivers bytes from the remote end to dev's receiver. Bytes arriving
// while the receiver is off are lost, as on the wire.
func (b *Bus) Inject(dev uartdrv.Device, data ...byte) int {
	p := b.port(dev)
	if p == nil {
		return 0
	}
	b.mu.Lock()
	n := 0
	if p.receiving() {
		p.line = append(p.line, data...)
		p.fill()
		n = len(data)
	}
	b.mu.Unlock()
	b.after()
	return n
}

// Transmitted returns and clears the bytes dev has shifted out.
func (b *Bus) Transmitted(dev uartdrv.Device) []byte {
	p := b.port(dev)
	if p == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := p.sent
	p.sent = nil
	return out
}

// TxWrites returns how many bytes were accepted by dev's TXREG.
func (b *Bus) TxWrites(dev uartdrv.Device) int {
	p := b.port(dev)
	if p == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return p.txWrites
}

// StallTx stops (or resumes) the transmit shifter of dev. While stalled the TX
// FIFO fills up and UTXBF is reported.
func (b *Bus) StallTx(dev uartdrv.Device, stalled bool) {
	p := b.port(dev)
	if p == nil {
		return
	}
	b.mu.Lock()
	p.txStalled = stalled
	p.shift()
	b.mu.Unlock()
	b.after()
}

// Overrun latches OERR on dev, as if a byte had arrived with the FIFO full.
func (b *Bus) Overrun(dev uartdrv.Device) {
	p := b.port(dev)
	if p == nil {
		return
	}
	b.mu.Lock()
	p.sta |= uint32(uartdrv.StatusOERR)
	b.mu.Unlock()
	b.after()
}

// Pending returns the number of bytes in dev's RX FIFO and on the line.
func (b *Bus) Pending(dev uartdrv.Device) int {
	p := b.port(dev)
	if p == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(p.rx) + len(p.line)
}

// OnTransmit registers fn to receive every byte dev shifts out. It is called
// outside the bus lock, from the goroutine that wrote TXREG.
func (b *Bus) OnTransmit(dev uartdrv.Device, fn func(byte)) {
	p := b.port(dev)
	if p == nil {
		return
	}
	b.mu.Lock()
	p.onTx = fn
	b.mu.Unlock()
}

func (b *Bus) port(dev uartdrv.Device) *port {
	if !dev.Valid() {
		return nil
	}
	return b.ports[dev]
}
