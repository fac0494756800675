package sim

import "github.com/jangala-dev/tinygo-uartdrv/uartdrv"

const (
	staLive = uint32(uartdrv.StatusURXDA | uartdrv.StatusTRMT | uartdrv.StatusUTXBF | uartdrv.StatusRIDLE)
	// Bits software can only clear.
	staClearOnly = uint32(uartdrv.StatusOERR)
	// Bits set by hardware only.
	staReadOnly = staLive | uint32(uartdrv.StatusFERR|uartdrv.StatusPERR)
)

// port is the state of one simulated UART. All fields are guarded by Bus.mu.
type port struct {
	bus  *Bus
	dev  uartdrv.Device
	regs *portRegs

	mode, sta, brg uint32

	rx   []byte // hardware RX FIFO
	line []byte // bytes in flight, moved into rx as room appears
	tx   []byte // hardware TX FIFO
	sent []byte // bytes shifted out

	txStalled bool
	txWrites  int
	onTx      func(byte)
}

func newPort(b *Bus, dev uartdrv.Device) *port {
	p := &port{bus: b, dev: dev}
	p.regs = &portRegs{
		mode: &reg{b: b, read: func() uint32 { return p.mode }, write: func(v uint32) { p.setMode(v) }},
		sta:  &reg{b: b, read: p.status, write: p.setStatus},
		brg:  &reg{b: b, read: func() uint32 { return p.brg }, write: func(v uint32) { p.brg = v & 0xFFFF }},
		tx:   &reg{b: b, read: func() uint32 { return 0 }, write: func(v uint32) { p.writeTx(byte(v)) }},
		rx:   &reg{b: b, read: p.peekRx, load: p.readRx, write: func(uint32) {}},
	}
	return p
}

func (p *port) on() bool { return p.mode&uint32(uartdrv.ModeON) != 0 }

func (p *port) receiving() bool {
	return p.on() && p.sta&uint32(uartdrv.StatusURXEN) != 0
}

func (p *port) transmitting() bool {
	return p.on() && p.sta&uint32(uartdrv.StatusUTXEN) != 0
}

func (p *port) status() uint32 {
	v := p.sta &^ staLive
	if len(p.rx) > 0 {
		v |= uint32(uartdrv.StatusURXDA)
	}
	if len(p.tx) >= uartdrv.HardwareFifoDepth {
		v |= uint32(uartdrv.StatusUTXBF)
	}
	if len(p.tx) == 0 {
		v |= uint32(uartdrv.StatusTRMT)
	}
	if len(p.line) == 0 {
		v |= uint32(uartdrv.StatusRIDLE)
	}
	return v
}

func (p *port) setStatus(v uint32) {
	keep := p.sta & staReadOnly
	oerr := p.sta & v & staClearOnly
	p.sta = v&^(staReadOnly|staClearOnly) | keep | oerr
	p.fill()
	p.shift()
}

func (p *port) setMode(v uint32) {
	p.mode = v
	p.fill()
	p.shift()
}

// rxReady reports whether the RX FIFO reached the URXISEL trigger level.
func (p *port) rxReady() bool {
	if !p.receiving() || len(p.rx) == 0 {
		return false
	}
	depth := uartdrv.TriggerFromStatus(p.sta).Depth()
	if depth == 0 {
		depth = 1
	}
	return len(p.rx) >= depth
}

func (p *port) overrun() bool {
	return p.receiving() && p.sta&uint32(uartdrv.StatusOERR) != 0
}

// fill moves bytes from the line into the RX FIFO. Reception stops while OERR is
// latched.
func (p *port) fill() {
	if !p.receiving() || p.sta&uint32(uartdrv.StatusOERR) != 0 {
		return
	}
	for len(p.line) > 0 && len(p.rx) < uartdrv.HardwareFifoDepth {
		p.rx = append(p.rx, p.line[0])
		p.line = p.line[1:]
	}
}

func (p *port) peekRx() uint32 {
	if len(p.rx) == 0 {
		return 0
	}
	return uint32(p.rx[0])
}

func (p *port) readRx() uint32 {
	if len(p.rx) == 0 {
		return 0
	}
	c := p.rx[0]
	p.rx = p.rx[1:]
	p.fill()
	return uint32(c)
}

func (p *port) writeTx(c byte) {
	if !p.transmitting() || len(p.tx) >= uartdrv.HardwareFifoDepth {
		return
	}
	p.txWrites++
	p.tx = append(p.tx, c)
	p.shift()
}

// shift empties the TX FIFO onto the wire: into the own receiver in loopback,
// otherwise into sent and the OnTransmit hook.
func (p *port) shift() {
	if p.txStalled || !p.transmitting() {
		return
	}
	loop := p.mode&uint32(uartdrv.ModeLPBACK) != 0
	for _, c := range p.tx {
		p.sent = append(p.sent, c)
		if loop {
			if p.receiving() {
				p.line = append(p.line, c)
			}
		} else if p.onTx != nil {
			p.bus.out = append(p.bus.out, outByte{fn: p.onTx, b: c})
		}
	}
	p.tx = p.tx[:0]
	if loop {
		p.fill()
	}
}

type portRegs struct {
	mode, sta, brg, tx, rx *reg
}

func (r *portRegs) Mode() uartdrv.Register   { return r.mode }
func (r *portRegs) Status() uartdrv.Register { return r.sta }
func (r *portRegs) Baud() uartdrv.Register   { return r.brg }
func (r *portRegs) TxReg() uartdrv.Register  { return r.tx }
func (r *portRegs) RxReg() uartdrv.Register  { return r.rx }
