package uartdrv

// DefaultClockHz is the peripheral bus clock of the reference board.
const DefaultClockHz = 64000000

// maxDivisor is the largest value UxBRG can hold.
const maxDivisor = 0xFFFF

// CalculateBaud returns the UxBRG value for rate at DefaultClockHz.
func CalculateBaud(rate BaudRate, highSpeed bool) (uint16, error) {
	if !rate.Valid() {
		return 0, configErr("baud rate", uint32(rate))
	}
	return Divisor(DefaultClockHz, uint32(rate), highSpeed)
}

// Divisor computes clockHz/(m*rate) - 1 with m = 4 in high-speed mode and 16
// otherwise. Rates too fast for the clock (quotient 0) or too slow for the 16-bit
// register are rejected rather than wrapped.
func Divisor(clockHz, rate uint32, highSpeed bool) (uint16, error) {
	if rate == 0 {
		return 0, configErr("baud rate", rate)
	}
	m := uint64(16)
	if highSpeed {
		m = 4
	}
	q := uint64(clockHz) / (m * uint64(rate))
	if q == 0 {
		return 0, configErr("baud rate", rate)
	}
	if q-1 > maxDivisor {
		return 0, configErr("baud divisor", q-1)
	}
	return uint16(q - 1), nil
}

// Multiplier returns the baud clock multiplier for the speed mode.
func Multiplier(highSpeed bool) uint32 {
	if highSpeed {
		return 4
	}
	return 16
}
