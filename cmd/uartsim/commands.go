package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/jangala-dev/tinygo-uartdrv/uartdrv"
)

var commands = []*ishell.Cmd{
	&OpenCmd,
	&EnableCmd,
	&DisableCmd,
	&PutCmd,
	&GetCmd,
	&TryGetsCmd,
	&InjectCmd,
	&FlushCmd,
	&StatsCmd,
	&RegsCmd,
	&StallCmd,
	&CloseCmd,
}

// WithDevice parses the first argument as a device number.
func WithDevice(fn func(c *ishell.Context, s *Shell, dev uartdrv.Device)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if len(c.Args) == 0 {
			c.Err(fmt.Errorf("device expected"))
			return
		}
		dev, err := parseDevice(c.Args[0])
		if err != nil {
			c.Err(err)
			return
		}
		fn(c, ShellFrom(c), dev)
	}
}

// WithHandle is WithDevice for commands that need an open handle.
func WithHandle(fn func(c *ishell.Context, s *Shell, u *uartdrv.UART)) func(c *ishell.Context) {
	return WithDevice(func(c *ishell.Context, s *Shell, dev uartdrv.Device) {
		u, err := s.handle(dev)
		if err != nil {
			c.Err(err)
			return
		}
		fn(c, s, u)
	})
}

func report(c *ishell.Context, err error) {
	if err != nil {
		c.Err(err)
		return
	}
	c.Println("OK")
}

// parseOpenArgs turns "9600 irq=3 fifo=full buf=64 loop" into a Config.
func parseOpenArgs(dev uartdrv.Device, args []string) (uartdrv.Config, error) {
	cfg := uartdrv.Config{
		Device:      dev,
		Baud:        uartdrv.Baud9600,
		DataFormat:  uartdrv.NoParity8Bit,
		FifoTrigger: uartdrv.FifoChar,
		BufferSize:  64,
		SubPriority: 3,
		Timeout:     time.Second,
	}
	for _, arg := range args {
		key, val, _ := strings.Cut(arg, "=")
		switch key {
		case "loop":
			cfg.Loopback = true
		case "high":
			cfg.HighSpeed = true
		case "2stop":
			cfg.StopBits = uartdrv.TwoStop
		case "irq":
			cfg.Interrupts, cfg.Priority = true, 3
			if val != "" {
				p, err := strconv.Atoi(val)
				if err != nil {
					return cfg, fmt.Errorf("irq: %w", err)
				}
				cfg.Priority = uint8(p)
			}
		case "fifo":
			switch val {
			case "char":
				cfg.FifoTrigger = uartdrv.FifoChar
			case "3/4":
				cfg.FifoTrigger = uartdrv.FifoThreeQuarter
			case "full":
				cfg.FifoTrigger = uartdrv.FifoFull
			default:
				return cfg, fmt.Errorf("fifo: want char, 3/4 or full")
			}
		case "fmt":
			switch strings.ToUpper(val) {
			case "9N":
				cfg.DataFormat = uartdrv.NoParity9Bit
			case "8O":
				cfg.DataFormat = uartdrv.OddParity8Bit
			case "8E":
				cfg.DataFormat = uartdrv.EvenParity8Bit
			case "8N":
				cfg.DataFormat = uartdrv.NoParity8Bit
			default:
				return cfg, fmt.Errorf("fmt: want 9N, 8O, 8E or 8N")
			}
		case "buf":
			n, err := strconv.Atoi(val)
			if err != nil {
				return cfg, fmt.Errorf("buf: %w", err)
			}
			cfg.BufferSize = n
		default:
			n, err := strconv.Atoi(key)
			if err != nil {
				return cfg, fmt.Errorf("unknown option %q", arg)
			}
			cfg.Baud = uartdrv.BaudRate(n)
		}
	}
	return cfg, nil
}

var (
	// OpenCmd configures a UART.
	OpenCmd = ishell.Cmd{
		Name: "open",
		Help: "DEV [BAUD] [irq[=PRIO]] [fifo=char|3/4|full] [fmt=8N] [buf=N] [loop] [high] [2stop]",
		Func: WithDevice(func(c *ishell.Context, s *Shell, dev uartdrv.Device) {
			cfg, err := parseOpenArgs(dev, c.Args[1:])
			if err != nil {
				c.Err(err)
				return
			}
			cfg.OnReceive = func(dev uartdrv.Device, data []byte) {
				glog.V(1).Infof("%v received %q", dev, data)
			}
			u, err := s.Drv.Open(cfg)
			if err != nil {
				c.Err(err)
				return
			}
			s.handles[dev] = u
			c.Println("OK")
		}),
	}

	// EnableCmd enables transmit and receive.
	EnableCmd = ishell.Cmd{
		Name: "enable",
		Help: "DEV",
		Func: WithHandle(func(c *ishell.Context, s *Shell, u *uartdrv.UART) {
			report(c, u.Enable())
		}),
	}

	// DisableCmd disables transmit and receive.
	DisableCmd = ishell.Cmd{
		Name: "disable",
		Help: "DEV",
		Func: WithHandle(func(c *ishell.Context, s *Shell, u *uartdrv.UART) {
			report(c, u.Disable())
		}),
	}

	// PutCmd transmits text.
	PutCmd = ishell.Cmd{
		Name:    "put",
		Aliases: []string{"puts"},
		Help:    "DEV TEXT...",
		Func: WithHandle(func(c *ishell.Context, s *Shell, u *uartdrv.UART) {
			n, err := u.Puts([]byte(strings.Join(c.Args[1:], " ")))
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("sent %d bytes\n", n)
		}),
	}

	// GetCmd waits for N bytes.
	GetCmd = ishell.Cmd{
		Name:    "get",
		Aliases: []string{"gets"},
		Help:    "DEV [N]",
		Func: WithHandle(func(c *ishell.Context, s *Shell, u *uartdrv.UART) {
			n := 1
			if len(c.Args) > 1 {
				var err error
				if n, err = strconv.Atoi(c.Args[1]); err != nil || n <= 0 {
					c.Err(fmt.Errorf("invalid count %q", c.Args[1]))
					return
				}
			}
			buf := make([]byte, n)
			got, err := u.Gets(buf)
			if got > 0 {
				c.Printf("%q\n", buf[:got])
			}
			if err != nil {
				c.Err(err)
			}
		}),
	}

	// TryGetsCmd prints whatever has been received.
	TryGetsCmd = ishell.Cmd{
		Name:    "trygets",
		Aliases: []string{"read"},
		Help:    "DEV",
		Func: WithHandle(func(c *ishell.Context, s *Shell, u *uartdrv.UART) {
			buf := make([]byte, uartdrv.MaxBufferSize)
			n, err := u.TryGets(buf)
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("%q\n", buf[:n])
		}),
	}

	// InjectCmd feeds bytes into the simulated receiver.
	InjectCmd = ishell.Cmd{
		Name: "inject",
		Help: "DEV TEXT...",
		Func: WithDevice(func(c *ishell.Context, s *Shell, dev uartdrv.Device) {
			data := []byte(strings.Join(c.Args[1:], " "))
			n := s.Bus.Inject(dev, data...)
			c.Printf("injected %d/%d bytes\n", n, len(data))
		}),
	}

	// FlushCmd clears the software receive buffer.
	FlushCmd = ishell.Cmd{
		Name: "flush",
		Help: "DEV",
		Func: WithHandle(func(c *ishell.Context, s *Shell, u *uartdrv.UART) {
			report(c, u.Flush())
		}),
	}

	// StatsCmd prints the driver counters.
	StatsCmd = ishell.Cmd{
		Name: "stats",
		Help: "DEV",
		Func: WithDevice(func(c *ishell.Context, s *Shell, dev uartdrv.Device) {
			st := s.Drv.Stats(dev)
			c.Printf("irq=%d bytes=%d callbacks=%d overruns=%d dropped=%d unclaimed=%d\n",
				st.Interrupts, st.Bytes, st.Callbacks, st.Overruns, st.Dropped, st.Unclaimed)
			if u := s.handles[dev]; u != nil {
				c.Printf("buffered=%d\n", u.Buffered())
			}
		}),
	}

	// RegsCmd dumps the register block.
	RegsCmd = ishell.Cmd{
		Name: "regs",
		Help: "DEV",
		Func: WithDevice(func(c *ishell.Context, s *Shell, dev uartdrv.Device) {
			r, err := s.Drv.DebugRegs(dev)
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("MODE=%08x STA=%08x BRG=%04x IFS=%08x IEC=%08x IPC=%08x\n",
				r.Mode, r.Status, r.Baud, r.IFS, r.IEC, r.IPC)
			c.Printf("format=%v trigger=%d\n",
				uartdrv.FormatFromMode(r.Mode), uartdrv.TriggerFromStatus(r.Status).Depth())
		}),
	}

	// StallCmd freezes or releases the simulated transmitter.
	StallCmd = ishell.Cmd{
		Name: "stall",
		Help: "DEV on|off",
		Func: WithDevice(func(c *ishell.Context, s *Shell, dev uartdrv.Device) {
			on := len(c.Args) < 2 || c.Args[1] == "on"
			s.Bus.StallTx(dev, on)
			c.Println("OK")
		}),
	}

	// CloseCmd destroys the handle.
	CloseCmd = ishell.Cmd{
		Name:    "close",
		Aliases: []string{"destroy"},
		Help:    "DEV",
		Func: WithDevice(func(c *ishell.Context, s *Shell, dev uartdrv.Device) {
			u, err := s.handle(dev)
			if err != nil {
				c.Err(err)
				return
			}
			s.handles[dev] = nil
			report(c, u.Destroy())
		}),
	}
)
