package scpi

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds every single instrument exchange
	DefaultTimeout = 10 * time.Second

	// DefaultPollInterval is the ESR polling period used by WaitOPC
	DefaultPollInterval = 200 * time.Millisecond
)

// WithTimeout sets the per-exchange deadline for writes, queries and dialing
func WithTimeout(timeout time.Duration) func(c *Client) {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) func(c *Client) {
	return func(c *Client) {
		c.logger = logger.With(slog.String("instrument", c.addr))
	}
}

// Client is a line-oriented SCPI session over a raw TCP socket. Commands
// are newline terminated, replies are read up to the next newline. A Client
// is not safe for concurrent use; the instruments answer one command at
// a time and the sweep is strictly sequential.
type Client struct {
	addr    string
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
	logger  *slog.Logger
}

// Dial connects to an instrument at addr (host:port, typically port 5025)
// with a discard logger
func Dial(addr string, options ...func(c *Client)) (*Client, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	c := Client{
		addr:    addr,
		timeout: DefaultTimeout,
		logger:  logger,
	}

	for _, option := range options {
		option(&c)
	}

	conn, err := net.DialTimeout("tcp", addr, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)

	return &c, nil
}

// Write sends a command that produces no reply
func (c *Client) Write(cmd string) error {
	c.logger.Debug("scpi write", slog.String("cmd", cmd))

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return &CommandError{Cmd: cmd, Err: err}
	}
	if _, err := c.conn.Write([]byte(cmd + "\n")); err != nil {
		return &CommandError{Cmd: cmd, Err: c.mapTimeout(err)}
	}

	return nil
}

// Query sends a command and reads one newline-terminated reply, with
// trailing whitespace stripped
func (c *Client) Query(cmd string) (string, error) {
	if err := c.Write(cmd); err != nil {
		return "", err
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return "", &CommandError{Cmd: cmd, Err: err}
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", &CommandError{Cmd: cmd, Err: c.mapTimeout(err)}
	}

	reply := strings.TrimSpace(line)
	c.logger.Debug("scpi reply", slog.String("cmd", cmd), slog.String("reply", reply))

	return reply, nil
}

// QueryFloat sends a command and parses the reply as a float64
func (c *Client) QueryFloat(cmd string) (float64, error) {
	reply, err := c.Query(cmd)
	if err != nil {
		return 0, err
	}

	value, err := strconv.ParseFloat(reply, 64)
	if err != nil {
		return 0, &CommandError{Cmd: cmd, Err: fmt.Errorf("parsing reply %q: %w", reply, err)}
	}

	return value, nil
}

// Sync sends a command chained with *OPC? and blocks until the instrument
// confirms the operation completed
func (c *Client) Sync(cmd string) error {
	_, err := c.Query(cmd + ";*OPC?")
	return err
}

// WaitOPC sends a command chained with *OPC and polls the event status
// register until the operation-complete bit is set. It is used for long
// operations (DPD training, internal servo) whose duration exceeds a
// reasonable socket deadline. Expiry of timeout returns ErrTimeout wrapped
// in a CommandError naming the original command.
func (c *Client) WaitOPC(cmd string, timeout, interval time.Duration) error {
	setup := []string{"*ESE 1", "*SRE 32", cmd + ";*OPC"}
	for _, s := range setup {
		if err := c.Write(s); err != nil {
			return err
		}
	}

	deadline := time.Now().Add(timeout)
	for {
		esr, err := c.QueryFloat("*ESR?")
		if err != nil {
			return err
		}
		if int(esr)&1 != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return &CommandError{Cmd: cmd, Err: fmt.Errorf("%w: operation not complete after %s", ErrTimeout, timeout)}
		}
		time.Sleep(interval)
	}
}

// ID queries the instrument identification string
func (c *Client) ID() (string, error) {
	return c.Query("*IDN?")
}

// Reset presets the instrument and clears its status registers
func (c *Client) Reset() error {
	return c.Sync("*RST;*CLS")
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) mapTimeout(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: no answer after %s", ErrTimeout, c.timeout)
	}
	return err
}
