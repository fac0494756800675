// Command uartsim is an interactive shell around the UART driver running on the
// simulated register bus. With -port, one simulated UART is bridged to a host
// serial port.
//
//	uartsim -port /dev/ttyUSB0 -device 2
//	uartsim open 1 115200 irq loop
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
)

func main() {
	flag.Parse()
	code := run()
	glog.Flush()
	os.Exit(code)
}

func run() int {
	s := NewShell()
	defer s.Close()

	if portName != "" {
		if err := s.Bridge(portName, portBaud, portDevice); err != nil {
			glog.Errorf("bridge: %v", err)
			return 1
		}
	}
	if err := s.Run(flag.Args()...); err != nil {
		glog.Errorf("%v", err)
		return 1
	}
	return 0
}
