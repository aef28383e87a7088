package hostio

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// OpenSerial opens a serial bridge to the decoder and returns it as a word
// stream.
func OpenSerial(port string, baud int, timeout time.Duration) (*Stream, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("hostio: open %s: %w", port, err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("hostio: reset %s: %w", port, err)
	}
	t := serial.NoTimeout
	if timeout > 0 {
		t = timeout
	}
	if err := p.SetReadTimeout(t); err != nil {
		p.Close()
		return nil, fmt.Errorf("hostio: SetReadTimeout: %w", err)
	}
	return NewStream(p, timeout), nil
}
