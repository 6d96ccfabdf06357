package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/qkdlab/cascade/qkd"
	"github.com/qkdlab/cascade/qkd/bitmap"
)

var tracer = otel.Tracer("github.com/qkdlab/cascade/qkd/wire")

// DefaultMaxConns bounds the server's concurrent connections.
const DefaultMaxConns = 8

// ServerOpts configures a verifier server.
type ServerOpts struct {
	// Key is the verifier's residual key, the one parity queries are
	// answered against. Must be non-empty.
	Key bitmap.Dense

	// MaxConns bounds concurrent client connections. Defaults to
	// DefaultMaxConns.
	MaxConns int

	// IdleTimeout bounds how long the server waits for the next request
	// on a connection. Defaults to DefaultTimeout.
	IdleTimeout time.Duration

	// Logf, when set, receives per-session log lines.
	Logf func(format string, args ...interface{})
}

// A Server is the verifier role of the classical channel: a stateless
// parity oracle over its own key, serving one reconciliation session per
// connection. Session state (the leakage ledger, the shuffle cache) is
// connection-scoped; concurrent sessions never share it.
type Server struct {
	opts ServerOpts
	sem  chan struct{}

	mu     sync.Mutex
	ln     net.Listener
	closed bool
	wg     sync.WaitGroup
}

// NewServer returns a server answering parity queries against key.
func NewServer(opts ServerOpts) (*Server, error) {
	if opts.Key.Size() == 0 {
		return nil, errors.New("wire: must provide a non-empty verifier key")
	}
	if opts.MaxConns == 0 {
		opts.MaxConns = DefaultMaxConns
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultTimeout
	}
	if opts.Logf == nil {
		opts.Logf = func(string, ...interface{}) {}
	}
	return &Server{
		opts: opts,
		sem:  make(chan struct{}, opts.MaxConns),
	}, nil
}

// ListenAndServe listens on addr and serves until Close.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("wire: listening on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close, handling each in its own
// goroutine, at most MaxConns at a time.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return errors.New("wire: server closed")
	}
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("wire: accepting: %w", err)
		}
		s.sem <- struct{}{}
		s.wg.Add(1)
		go func() {
			defer func() {
				conn.Close()
				<-s.sem
				s.wg.Done()
			}()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting connections and unblocks Serve.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// handleConn serves one reconciliation session.
func (s *Server) handleConn(conn net.Conn) {
	ctx := context.Background()
	oracle := qkd.NewKeyOracle(s.opts.Key)
	remote := conn.RemoteAddr()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout)); err != nil {
			return
		}
		t, payload, err := readMessage(conn)
		if err != nil {
			return
		}
		reply, done := s.handleMessage(ctx, oracle, t, payload, remote)
		if err := conn.SetWriteDeadline(time.Now().Add(s.opts.IdleTimeout)); err != nil {
			return
		}
		if _, err := conn.Write(reply); err != nil {
			return
		}
		if done {
			return
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, oracle *qkd.KeyOracle, t msgType, payload []byte, remote net.Addr) (reply []byte, done bool) {
	switch t {
	case typeStart:
		algorithm, err := decodeNamed(payload)
		if err != nil {
			return encodeError(codeInternal, "malformed start"), true
		}
		if err := oracle.Start(ctx, algorithm); err != nil {
			s.opts.Logf("wire: %v rejected: %v", remote, err)
			return encodeError(codeUnknownAlgorithm, err.Error()), true
		}
		s.opts.Logf("wire: %v started reconciliation (%s)", remote, algorithm)
		return encodeAck(typeStartAck), false

	case typeAskParities:
		blocks, err := decodeAskParities(payload)
		if err != nil {
			return encodeError(codeInternal, "malformed parity request"), true
		}
		_, span := tracer.Start(ctx, "wire.AskParities",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.Int("blocks", len(blocks))))
		parities, err := oracle.AskParities(ctx, blocks)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			switch {
			case errors.Is(err, qkd.ErrInvalidRange):
				// The ledger has not moved; the session stays usable.
				return encodeError(codeInvalidRange, err.Error()), false
			case errors.Is(err, qkd.ErrSessionClosed):
				return encodeError(codeSessionClosed, err.Error()), false
			default:
				return encodeError(codeInternal, err.Error()), true
			}
		}
		span.SetAttributes(attribute.Int("leaked_total", oracle.Leaked()))
		span.End()
		return encodeParities(parities), false

	case typeEnd:
		algorithm, err := decodeNamed(payload)
		if err != nil {
			return encodeError(codeInternal, "malformed end"), true
		}
		oracle.End(ctx, algorithm)
		s.opts.Logf("wire: %v ended reconciliation (%s), leaked %d bits", remote, algorithm, oracle.Leaked())
		return encodeAck(typeEndAck), true

	default:
		return encodeError(codeInternal, fmt.Sprintf("unexpected message type %d", t)), true
	}
}
