package nudgematic

import (
	"fmt"
	"io"

	"github.com/liric/liric_interface/serialport"
)

// Connection is the serial link to the nudgematic controller.
type Connection struct {
	port *serialport.Port
}

// NewConnection returns a closed Connection.
func NewConnection(opts ...serialport.Option) *Connection {
	return &Connection{port: serialport.New(opts...)}
}

func (c *Connection) Open(device string) error {
	if err := c.port.Open(device); err != nil {
		return fmt.Errorf("nudgematic: %w", err)
	}
	return nil
}

// Attach uses conn, typically a simulator, in place of a serial device.
func (c *Connection) Attach(name string, conn io.ReadWriteCloser) error {
	if err := c.port.Attach(name, conn); err != nil {
		return fmt.Errorf("nudgematic: %w", err)
	}
	return nil
}

func (c *Connection) Close() error {
	if err := c.port.Close(); err != nil {
		return fmt.Errorf("nudgematic: %w", err)
	}
	return nil
}

func (c *Connection) IsOpen() bool {
	return c.port.IsOpen()
}

func (c *Connection) SendCommand(req serialport.Request) (string, error) {
	return c.port.SendCommand(req)
}
