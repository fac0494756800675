// Package hostbridge connects one simulated UART to a real serial port on the
// host. Bytes read from the port are injected into the device's receiver; bytes
// the device shifts out are written to the port.
package hostbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/tarm/serial"
	"go.uber.org/atomic"

	"github.com/jangala-dev/tinygo-uartdrv/sim"
	"github.com/jangala-dev/tinygo-uartdrv/uartdrv"
)

// Config describes the host side of the bridge.
type Config struct {
	// Name is the device path, e.g. /dev/ttyUSB0 or COM3.
	Name string
	Baud int
	// ReadTimeout bounds each read so Run notices cancellation; 0 blocks.
	ReadTimeout time.Duration
}

// DefaultConfig returns a config at 115200 baud with a 100ms read timeout.
func DefaultConfig(name string) *Config {
	return &Config{Name: name, Baud: 115200, ReadTimeout: 100 * time.Millisecond}
}

// Open opens the host serial port described by cfg.
func Open(cfg *Config) (io.ReadWriteCloser, error) {
	if cfg == nil {
		return nil, errors.New("hostbridge: config cannot be nil")
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("hostbridge: open %s: %w", cfg.Name, err)
	}
	return port, nil
}

// Bridge moves bytes between a simulated device and a host port.
type Bridge struct {
	bus  *sim.Bus
	dev  uartdrv.Device
	port io.ReadWriteCloser

	wmu sync.Mutex

	rx atomic.Uint64 // host -> device
	tx atomic.Uint64 // device -> host
}

// New attaches port to dev on bus. Transmitted bytes flow to the port as soon as
// New returns; call Run to carry the other direction.
func New(bus *sim.Bus, dev uartdrv.Device, port io.ReadWriteCloser) *Bridge {
	b := &Bridge{bus: bus, dev: dev, port: port}
	bus.OnTransmit(dev, b.transmit)
	return b
}

func (b *Bridge) transmit(c byte) {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	if _, err := b.port.Write([]byte{c}); err != nil {
		glog.Warningf("hostbridge %v: write: %v", b.dev, err)
		return
	}
	b.tx.Inc()
}

// Run copies host input into the device until ctx is cancelled or the port
// fails. The port is closed on return.
func (b *Bridge) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			b.port.Close()
		case <-stop:
		}
	}()
	defer func() {
		b.bus.OnTransmit(b.dev, nil)
		b.port.Close()
	}()

	glog.Infof("hostbridge %v: running", b.dev)
	buf := make([]byte, 64)
	for {
		n, err := b.port.Read(buf)
		if n > 0 {
			if got := b.bus.Inject(b.dev, buf[:n]...); got < n {
				glog.V(2).Infof("hostbridge %v: receiver off, dropped %d bytes", b.dev, n-got)
			}
			b.rx.Add(uint64(n))
		}
		if ctx.Err() != nil {
			glog.Infof("hostbridge %v: stopped", b.dev)
			return nil
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF) && n == 0:
			// tarm/serial reports an expired read timeout as EOF on some platforms.
		default:
			glog.Errorf("hostbridge %v: read: %v", b.dev, err)
			return err
		}
	}
}

// Counts returns how many bytes crossed the bridge in each direction.
func (b *Bridge) Counts() (rx, tx uint64) {
	return b.rx.Load(), b.tx.Load()
}
