package wire

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/qkdlab/cascade/qkd"
	"github.com/qkdlab/cascade/qkd/bitmap"
)

// DefaultTimeout bounds one request/response round trip.
const DefaultTimeout = 30 * time.Second

// A Client is the remote implementation of qkd.ParityOracle: it forwards
// parity queries to a verifier server over a network connection. From the
// reconciler's perspective it is indistinguishable from a KeyOracle over
// the same key.
//
// Any transport failure poisons the whole session: once a query may have
// been lost, the leakage accounting cannot be trusted, so every later call
// fails with ErrChannelUnavailable until a new client is dialed.
type Client struct {
	conn    net.Conn
	timeout time.Duration
	leaked  int
	broken  bool
}

// Dial connects to a verifier server. Timeout bounds the dial and every
// subsequent round trip; zero means DefaultTimeout.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", qkd.ErrChannelUnavailable, addr, err)
	}
	return NewClient(conn, timeout), nil
}

// NewClient wraps an established connection. Timeout bounds each round
// trip; zero means DefaultTimeout.
func NewClient(conn net.Conn, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{conn: conn, timeout: timeout}
}

// Start implements qkd.ParityOracle.
func (c *Client) Start(ctx context.Context, algorithm string) error {
	t, payload, err := c.roundTrip(ctx, encodeNamed(typeStart, algorithm))
	if err != nil {
		return err
	}
	switch t {
	case typeStartAck:
		c.leaked = 0
		return nil
	case typeError:
		return decodeError(payload)
	default:
		return fmt.Errorf("%w: unexpected reply type %d", qkd.ErrChannelUnavailable, t)
	}
}

// AskParities implements qkd.ParityOracle.
func (c *Client) AskParities(ctx context.Context, blocks []qkd.Block) (bitmap.Dense, error) {
	t, payload, err := c.roundTrip(ctx, encodeAskParities(blocks))
	if err != nil {
		return bitmap.Empty(), err
	}
	switch t {
	case typeParities:
		parities, err := decodeParities(payload)
		if err != nil {
			return bitmap.Empty(), err
		}
		c.leaked += parities.Size()
		return parities, nil
	case typeError:
		return bitmap.Empty(), decodeError(payload)
	default:
		return bitmap.Empty(), fmt.Errorf("%w: unexpected reply type %d", qkd.ErrChannelUnavailable, t)
	}
}

// End implements qkd.ParityOracle.
func (c *Client) End(ctx context.Context, algorithm string) error {
	t, payload, err := c.roundTrip(ctx, encodeNamed(typeEnd, algorithm))
	if err != nil {
		return err
	}
	switch t {
	case typeEndAck:
		return nil
	case typeError:
		return decodeError(payload)
	default:
		return fmt.Errorf("%w: unexpected reply type %d", qkd.ErrChannelUnavailable, t)
	}
}

// Leaked returns the client-side count of parity bits received this
// session. It mirrors the server's ledger.
func (c *Client) Leaked() int {
	return c.leaked
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) roundTrip(ctx context.Context, msg []byte) (msgType, []byte, error) {
	if c.broken {
		return 0, nil, fmt.Errorf("%w: session aborted by earlier failure", qkd.ErrChannelUnavailable)
	}
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.broken = true
		return 0, nil, fmt.Errorf("%w: %v", qkd.ErrChannelUnavailable, err)
	}
	if _, err := c.conn.Write(msg); err != nil {
		c.broken = true
		return 0, nil, fmt.Errorf("%w: %v", qkd.ErrChannelUnavailable, err)
	}
	t, payload, err := readMessage(c.conn)
	if err != nil {
		c.broken = true
		return 0, nil, fmt.Errorf("%w: %v", qkd.ErrChannelUnavailable, err)
	}
	return t, payload, nil
}
