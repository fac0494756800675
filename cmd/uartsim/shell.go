package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/jangala-dev/tinygo-uartdrv/hostbridge"
	"github.com/jangala-dev/tinygo-uartdrv/sim"
	"github.com/jangala-dev/tinygo-uartdrv/uartdrv"
)

// Shell drives a Driver over a simulated bus from an ishell prompt.
type Shell struct {
	Shell *ishell.Shell
	Bus   *sim.Bus
	Drv   *uartdrv.Driver

	handles [uartdrv.NumDevices]*uartdrv.UART
	bridge  *hostbridge.Bridge
	cancel  context.CancelFunc
}

const shellKey = "$shell"

var (
	// flags

	clockHz    = uint(uartdrv.DefaultClockHz)
	portName   string
	portBaud   = 115200
	portDevice = 1
	evalOnly   bool
)

func init() {
	flag.UintVar(&clockHz, "clock", clockHz, "Peripheral bus clock in Hz used for baud divisors.")
	flag.StringVar(&portName, "port", portName, "Host serial port to bridge to a simulated UART.")
	flag.IntVar(&portBaud, "port-baud", portBaud, "Baud rate of the host serial port.")
	flag.IntVar(&portDevice, "device", portDevice, "Simulated UART (1 or 2) bridged to -port.")
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
}

// NewShell creates the simulated bus and driver and registers every command.
func NewShell() *Shell {
	s := &Shell{
		Shell: ishell.New(),
		Bus:   sim.New(),
	}
	s.Drv = uartdrv.NewDriver(s.Bus,
		uartdrv.WithClock(uint32(clockHz)),
		uartdrv.WithTrace(func(dev uartdrv.Device, burst []byte) {
			glog.V(2).Infof("%v ISR burst % x", dev, burst)
		}))
	s.Bus.Attach(s.Drv)

	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt("uartsim > ")
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// Bridge connects -port to the -device UART.
func (s *Shell) Bridge(name string, baud, devNum int) error {
	dev, err := parseDevice(strconv.Itoa(devNum))
	if err != nil {
		return err
	}
	port, err := hostbridge.Open(&hostbridge.Config{Name: name, Baud: baud, ReadTimeout: hostbridge.DefaultConfig(name).ReadTimeout})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.bridge = hostbridge.New(s.Bus, dev, port)
	s.cancel = cancel
	go func() {
		if err := s.bridge.Run(ctx); err != nil {
			glog.Errorf("bridge: %v", err)
		}
	}()
	glog.Infof("bridged %v to %s at %d baud", dev, name, baud)
	return nil
}

// Close destroys every open handle and stops the bridge.
func (s *Shell) Close() {
	for i, u := range s.handles {
		if u != nil {
			if err := u.Destroy(); err != nil {
				glog.Warningf("destroy %v: %v", uartdrv.Device(i), err)
			}
			s.handles[i] = nil
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// Run processes args as a single command, or starts the interactive prompt.
func (s *Shell) Run(args ...string) error {
	if len(args) > 0 {
		return s.Shell.Process(args...)
	}
	if evalOnly {
		return fmt.Errorf("command expected")
	}
	s.Shell.Run()
	return nil
}

func (s *Shell) handle(dev uartdrv.Device) (*uartdrv.UART, error) {
	u := s.handles[dev]
	if u == nil {
		return nil, fmt.Errorf("%v is not open", dev)
	}
	return u, nil
}

func parseDevice(arg string) (uartdrv.Device, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > uartdrv.NumDevices {
		return 0, fmt.Errorf("invalid device %q, want 1..%d", arg, uartdrv.NumDevices)
	}
	return uartdrv.Device(n - 1), nil
}
