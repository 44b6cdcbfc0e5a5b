package serial

import (
	"context"
	"io"
	"sync"

	"go.bug.st/serial"

	"github.com/buckleypaul/certbench/internal/errors"
)

// Console is a UART console of the device under test. It feeds the log
// pipeline like logcat does and accepts typed input.
type Console struct {
	portName string
	baudRate int
	openPort PortOpener

	mu   sync.Mutex
	port io.ReadWriteCloser
}

// PortOpener opens a serial port.
type PortOpener func(name string, baud int) (io.ReadWriteCloser, error)

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithOpener replaces the serial port driver.
func WithOpener(open PortOpener) ConsoleOption {
	return func(c *Console) { c.openPort = open }
}

// NewConsole describes a console on portName at baudRate. Nothing is opened
// until Open.
func NewConsole(portName string, baudRate int, opts ...ConsoleOption) *Console {
	c := &Console{
		portName: portName,
		baudRate: baudRate,
		openPort: openSerial,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func openSerial(name string, baud int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(name, mode)
}

// Port returns the configured port name.
func (c *Console) Port() string { return c.portName }

// Open connects to the port. Closing the returned reader disconnects. It
// has the shape of a log stream opener.
func (c *Console) Open(ctx context.Context) (io.ReadCloser, error) {
	if c.portName == "" {
		return nil, errors.New(errors.KindValidation, "no UART port configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port != nil {
		c.port.Close()
		c.port = nil
	}

	port, err := c.openPort(c.portName, c.baudRate)
	if err != nil {
		return nil, errors.Attr(errors.Wrapf(err, errors.KindTransport, "open %s", c.portName), "port", c.portName)
	}
	c.port = port
	return &session{console: c, port: port}, nil
}

// Write sends data to the port.
func (c *Console) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return io.ErrClosedPipe
	}
	_, err := c.port.Write(data)
	return err
}

// Connected returns whether the port is open.
func (c *Console) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port != nil
}

type session struct {
	console *Console
	port    io.ReadWriteCloser
	once    sync.Once
}

func (s *session) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *session) Close() error {
	var err error
	s.once.Do(func() {
		s.console.mu.Lock()
		if s.console.port == s.port {
			s.console.port = nil
		}
		s.console.mu.Unlock()
		err = s.port.Close()
	})
	return err
}
