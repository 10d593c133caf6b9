// Package relay implements the per-prompt streaming channel between the
// controller and the worker. A relay is a SOCK_SEQPACKET socketpair: the
// consumer end stays in the controller, the worker end is handed to the worker
// process over the control channel and carries chunk, done and error messages
// independently of the envelope stream.
package relay

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"sessiond/internal/protocol"
)

// ErrRelayClosed is returned when the worker end went away without sending
// done or error.
var ErrRelayClosed = errors.New("relay closed before completion")

// ConsumerEnd is the controller's side of a relay.
type ConsumerEnd struct {
	id   string
	conn *protocol.Conn

	mu     sync.Mutex
	closed bool
	cause  error
}

// WorkerEnd is the worker's side of a relay. In the controller it only holds
// the descriptor to transfer; in the worker it is rebuilt with Attach.
type WorkerEnd struct {
	id   string
	file *os.File

	mu   sync.Mutex
	conn *protocol.Conn
}

var relayLimit = protocol.WithRecordLimit(protocol.MaxRelayMessageSize)

// Open allocates a linked pair of endpoints.
func Open() (*ConsumerEnd, *WorkerEnd, error) {
	id := uuid.NewString()
	cf, wf, err := protocol.SocketPair("relay-" + id)
	if err != nil {
		return nil, nil, err
	}
	conn, err := protocol.NewConn(cf, relayLimit)
	_ = cf.Close()
	if err != nil {
		_ = wf.Close()
		return nil, nil, err
	}
	return &ConsumerEnd{id: id, conn: conn}, &WorkerEnd{id: id, file: wf}, nil
}

// Attach rebuilds a worker end from a received descriptor. f is consumed.
func Attach(f *os.File) (*WorkerEnd, error) {
	conn, err := protocol.NewConn(f, relayLimit)
	_ = f.Close()
	if err != nil {
		return nil, err
	}
	return &WorkerEnd{conn: conn}, nil
}

// ID identifies the relay in logs.
func (c *ConsumerEnd) ID() string { return c.id }

// Recv returns the next message from the worker. io.EOF means the peer closed
// without sending anything further.
func (c *ConsumerEnd) Recv() (protocol.RelayMessage, error) {
	b, files, err := c.conn.ReadRecord()
	for _, f := range files {
		_ = f.Close()
	}
	if err != nil {
		if cause := c.abortCause(); cause != nil {
			return protocol.RelayMessage{}, cause
		}
		return protocol.RelayMessage{}, err
	}
	return protocol.UnmarshalRelay(b)
}

// Close releases the consumer end. The worker's next write fails, which is
// how it learns the consumer stopped listening. Safe to call more than once.
func (c *ConsumerEnd) Close() error {
	return c.Abort(nil)
}

// Abort closes the end so that a pending or later Recv returns cause instead
// of io.EOF. A nil cause behaves like Close.
func (c *ConsumerEnd) Abort(cause error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cause = cause
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *ConsumerEnd) abortCause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// ID identifies the relay in logs. Empty on the worker side.
func (w *WorkerEnd) ID() string { return w.id }

// File returns the descriptor to transfer to the worker.
func (w *WorkerEnd) File() *os.File { return w.file }

func (w *WorkerEnd) connLocked() (*protocol.Conn, error) {
	if w.conn != nil {
		return w.conn, nil
	}
	if w.file == nil {
		return nil, io.ErrClosedPipe
	}
	conn, err := protocol.NewConn(w.file, relayLimit)
	if err != nil {
		return nil, err
	}
	w.conn = conn
	return conn, nil
}

// Send posts one message to the consumer.
func (w *WorkerEnd) Send(m protocol.RelayMessage) error {
	b, err := protocol.MarshalRelay(m)
	if err != nil {
		return err
	}
	w.mu.Lock()
	conn, err := w.connLocked()
	w.mu.Unlock()
	if err != nil {
		return err
	}
	return conn.WriteRecord(b)
}

// WaitPeerClosed blocks until the consumer end is closed (or this end is).
// Consumers never write, so any read completion means the relay is finished.
func (w *WorkerEnd) WaitPeerClosed() {
	w.mu.Lock()
	conn, err := w.connLocked()
	w.mu.Unlock()
	if err != nil {
		return
	}
	for {
		_, files, err := conn.ReadRecord()
		for _, f := range files {
			_ = f.Close()
		}
		if err != nil {
			return
		}
	}
}

// Close releases whatever this end holds. In the controller this drops the
// local copy of the transferred descriptor.
func (w *WorkerEnd) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var err error
	if w.conn != nil {
		err = w.conn.Close()
		w.conn = nil
	}
	if w.file != nil {
		if ferr := w.file.Close(); err == nil {
			err = ferr
		}
		w.file = nil
	}
	return err
}
