// Package serial carries wire frames over a UART bridge to a device side agent.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	bugserial "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"hwreg/bus"
	"hwreg/ral"
	"hwreg/util"
	"hwreg/util/env"
	"hwreg/wire"
)

const (
	driverName  = "serial"
	defaultBaud = 921600
)

var ErrNoPortFound = errors.New("serial: no USB serial port found")

type Driver struct{}

func (d *Driver) Description() string {
	return "UART bridge; target is port[@baud], an empty port picks the first USB serial port"
}

// parseTarget splits port[@baud]. The baud rate defaults to 921600.
func parseTarget(target string) (port string, baud int, err error) {
	port, rate, found := strings.Cut(target, "@")
	baud = defaultBaud
	if found {
		baud, err = strconv.Atoi(rate)
		if err != nil || baud <= 0 {
			return "", 0, fmt.Errorf("%w: serial: bad baud rate %q", ral.ErrInvalidArgument, rate)
		}
	}
	return
}

// DetectPort returns the first USB serial port.
func DetectPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", err
	}
	for _, port := range ports {
		if port.IsUSB {
			return port.Name, nil
		}
	}
	return "", ErrNoPortFound
}

func (d *Driver) Open(ctx context.Context, target string, logger *zap.Logger) (bus.Conn, error) {
	portName, baud, err := parseTarget(target)
	if err != nil {
		return nil, err
	}
	if portName == "" {
		if portName, err = DetectPort(); err != nil {
			return nil, err
		}
	}

	logger.Info("opening serial port", zap.String("port", portName), zap.Int("baud", baud))
	f, err := OpenPort(portName, baud)
	if err != nil {
		return nil, fmt.Errorf("serial: failed to open %s at %d baud: %w", portName, baud, err)
	}

	// set DTR so the bridge starts answering:
	if err = f.SetDTR(true); err != nil {
		f.Close()
		return nil, fmt.Errorf("serial: failed to set DTR: %w", err)
	}

	c := newConn(f, logger)
	c.onClose = func() { _ = f.SetDTR(false) }
	return c, nil
}

// Conn is an open serial transport. Requests are serialized on the port.
type Conn struct {
	logger  *zap.Logger
	rwc     io.ReadWriteCloser
	t       *wire.StreamTransport
	onClose func()

	closeOnce sync.Once
	closeErr  error
}

func newConn(rwc io.ReadWriteCloser, logger *zap.Logger) *Conn {
	return &Conn{logger: logger, rwc: rwc, t: wire.NewStreamTransport(rwc)}
}

func (c *Conn) Callbacks() ral.CallbackSet { return wire.Callbacks(c.t) }

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose()
		}
		if err := c.rwc.Close(); err != nil {
			c.closeErr = fmt.Errorf("serial: could not close port: %w", err)
		}
		c.logger.Debug("closed")
	})
	return c.closeErr
}

// Serve answers requests arriving on an open serial port with cb until the port is closed or
// ctx is done. It is the device side of the bridge.
func Serve(ctx context.Context, port io.ReadWriter, cb ral.CallbackSet, logger *zap.Logger) error {
	return wire.ServeStream(ctx, port, cb, logger)
}

// OpenPort opens portName for Serve with the same line settings the driver uses.
func OpenPort(portName string, baud int) (bugserial.Port, error) {
	return bugserial.Open(portName, &bugserial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugserial.NoParity,
		StopBits: bugserial.OneStopBit,
	})
}

func init() {
	if util.IsTruthy(env.GetOrDefault("HWREG_SERIAL_DISABLE", "0")) {
		return
	}
	bus.Register(driverName, &Driver{})
}
