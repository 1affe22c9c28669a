package vmm

import "io"

const (
	SerialDataPort   = 0x3f8
	SerialStatusPort = 0x3fd

	// line status register: transmitter holding register empty
	serialTHREmpty = 0x20
)

// Serial emulates just enough of the first 16550 uart for a kernel to print
// through it: writes to the data port go to Out, and the line status port
// always reads as ready to transmit.
type Serial struct {
	Out io.Writer
}

// HandleIO handles a port io exit. data is the exit's data buffer. It returns
// false if x isn't an access Serial emulates.
func (s *Serial) HandleIO(x PortIO, data []byte) (bool, error) {
	switch {
	case x.Port == SerialDataPort && x.Direction == Out:
		_, err := s.Out.Write(data)
		return true, err

	case x.Port == SerialStatusPort && x.Direction == In:
		for i := range data {
			data[i] = serialTHREmpty
		}

		return true, nil
	}

	return false, nil
}
