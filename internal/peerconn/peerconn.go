// Package peerconn runs one goroutine per peer connection: it owns the
// socket after handshake/preamble and forwards every frame to the engine
// verbatim, the engine being the single source of truth for peer state.
package peerconn

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dog4ik/mediatorrent/internal/logger"
	"github.com/dog4ik/mediatorrent/internal/peerprotocol"
)

// Cause classifies why a peer task terminated. The engine uses this only
// for logging and reputation, never for control flow.
type Cause int

const (
	CauseNone Cause = iota
	CauseTimeout
	CauseConnection
	CauseProtocolLogic
	CauseUnhandled
)

func (c Cause) String() string {
	switch c {
	case CauseTimeout:
		return "timeout"
	case CauseConnection:
		return "connection"
	case CauseProtocolLogic:
		return "protocol_logic"
	case CauseUnhandled:
		return "unhandled"
	default:
		return "none"
	}
}

// writeTimeout bounds how long a single outbound frame write may block.
const writeTimeout = time.Second

// heartbeatInterval is how often an idle connection sends a keep-alive.
const heartbeatInterval = time.Second

// inQueueCapacity / outQueueCapacity match the engine's bounded per-peer
// channel sizes.
const (
	inQueueCapacity  = 1000
	outQueueCapacity = 2000
)

// Event is something the engine reads off a peer task's outbound queue:
// either a decoded wire message, or (if Message is nil) the task's final
// termination record.
type Event struct {
	PeerID      string
	Message     peerprotocol.Message
	Terminated  bool
	Cause       Cause
	Err         error
}

// Conn is one peer connection task.
type Conn struct {
	id            string
	conn          net.Conn
	log           logger.Logger
	fastExtension bool

	in  chan peerprotocol.Message // engine -> task: frames to send
	out chan Event                // task -> engine: frames received + lifecycle

	closeC  chan struct{}
	closedC chan struct{}
}

// New wraps an already handshaken and preamble-exchanged connection.
func New(id string, conn net.Conn, fastExtension bool, l logger.Logger) *Conn {
	return &Conn{
		id:            id,
		conn:          conn,
		log:           l,
		fastExtension: fastExtension,
		in:            make(chan peerprotocol.Message, inQueueCapacity),
		out:           make(chan Event, outQueueCapacity),
		closeC:        make(chan struct{}),
		closedC:       make(chan struct{}),
	}
}

// ID returns the task's UUID, as assigned by the engine.
func (c *Conn) ID() string { return c.id }

// Addr returns the remote peer's network address.
func (c *Conn) Addr() string { return c.conn.RemoteAddr().String() }

// Send enqueues an outgoing wire message, to be written to the socket.
// It blocks only while the queue is full, until room frees up or the task
// has exited.
func (c *Conn) Send(m peerprotocol.Message) {
	select {
	case c.in <- m:
	case <-c.closedC:
	}
}

// Events returns the channel of incoming frames and lifecycle events.
func (c *Conn) Events() <-chan Event {
	return c.out
}

// Close requests the task to stop and waits for it to fully exit.
func (c *Conn) Close() {
	select {
	case <-c.closeC:
	default:
		close(c.closeC)
	}
	<-c.closedC
}

// Run drives the read and write loops until closed or a fatal error
// occurs, then emits a single terminated Event and returns.
func (c *Conn) Run() {
	defer close(c.closedC)

	readErrC := make(chan error, 1)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		readErrC <- c.readLoop()
	}()

	writeErrC := make(chan error, 1)
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		writeErrC <- c.writeLoop()
	}()

	var cause Cause
	var err error
	select {
	case <-c.closeC:
		cause, err = CauseNone, nil
	case err = <-readErrC:
		cause = classify(err)
	case err = <-writeErrC:
		cause = classify(err)
	}

	c.conn.Close()
	<-readDone
	<-writeDone

	c.out <- Event{PeerID: c.id, Terminated: true, Cause: cause, Err: err}
}

func (c *Conn) readLoop() error {
	r := bufio.NewReader(c.conn)
	sawPreamble := false
	for {
		select {
		case <-c.closeC:
			return nil
		default:
		}

		typ, msg, err := peerprotocol.ReadMessage(r)
		if err != nil {
			return err
		}
		if msg == nil {
			continue // keep-alive
		}
		if !sawPreamble {
			// Bitfield and Extension-handshake are only valid before any
			// other message; the engine enforces ordering, the task only
			// flags a protocol violation for a Bitfield arriving late.
			if typ != peerprotocol.Bitfield && typ != peerprotocol.Extension {
				sawPreamble = true
			}
		} else if typ == peerprotocol.Bitfield {
			return errProtocolViolation
		}

		select {
		case c.out <- Event{PeerID: c.id, Message: msg}:
		case <-c.closeC:
			return nil
		}
	}
}

var errProtocolViolation = errors.New("peerconn: bitfield received after preamble")

func (c *Conn) writeLoop() error {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.closeC:
			return nil
		case m := <-c.in:
			if err := c.writeFrame(m); err != nil {
				return err
			}
		case <-heartbeat.C:
			if err := c.writeRaw(peerprotocol.KeepAlive()); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) writeFrame(m peerprotocol.Message) error {
	b, err := peerprotocol.Encode(m)
	if err != nil {
		return fmt.Errorf("peerconn: %w", err)
	}
	return c.writeRaw(b)
}

func (c *Conn) writeRaw(b []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(b)
	return err
}

func classify(err error) Cause {
	if err == nil {
		return CauseNone
	}
	if errors.Is(err, errProtocolViolation) {
		return CauseProtocolLogic
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CauseTimeout
	}
	if errors.Is(err, net.ErrClosed) {
		return CauseConnection
	}
	return CauseUnhandled
}
