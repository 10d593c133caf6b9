package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// maxFDsPerMessage bounds how many descriptors may ride on one record.
const maxFDsPerMessage = 4

// SocketPair returns two connected SOCK_SEQPACKET unix sockets. Both ends are
// close-on-exec; exec.Cmd.ExtraFiles clears the flag for the child's copy.
func SocketPair(name string) (*os.File, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	return os.NewFile(uintptr(fds[0]), name+".0"), os.NewFile(uintptr(fds[1]), name+".1"), nil
}

// Conn sends and receives whole records over a SOCK_SEQPACKET socket.
// Send is safe for concurrent use; Recv must be called from one goroutine.
type Conn struct {
	uc    *net.UnixConn
	wmu   sync.Mutex
	limit int
	// read buffers, allocated on first read
	buf []byte
	oob []byte
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithRecordLimit caps the size of a received record. Larger records are
// rejected with ErrMessageTooLarge. The default is MaxMessageSize.
func WithRecordLimit(n int) ConnOption {
	return func(c *Conn) {
		if n > 0 {
			c.limit = n
		}
	}
}

// NewConn wraps f. The descriptor is duplicated, so the caller should close f
// once NewConn returns.
func NewConn(f *os.File, opts ...ConnOption) (*Conn, error) {
	c, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("file conn: %w", err)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		_ = c.Close()
		return nil, fmt.Errorf("file conn: %T is not a unix socket", c)
	}
	conn := &Conn{uc: uc, limit: MaxMessageSize}
	for _, o := range opts {
		o(conn)
	}
	return conn, nil
}

// WriteRecord writes b as one record, attaching files with SCM_RIGHTS.
// The caller keeps ownership of files and should close its copies afterwards.
func (c *Conn) WriteRecord(b []byte, files ...*os.File) error {
	if len(files) > maxFDsPerMessage {
		return fmt.Errorf("too many descriptors: %d", len(files))
	}
	var oob []byte
	if len(files) > 0 {
		fds := make([]int, len(files))
		for i, f := range files {
			fds[i] = int(f.Fd())
		}
		oob = unix.UnixRights(fds...)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	n, oobn, err := c.uc.WriteMsgUnix(b, oob, nil)
	if err != nil {
		return err
	}
	if n != len(b) || oobn != len(oob) {
		return io.ErrShortWrite
	}
	return nil
}

// ReadRecord reads one record and any descriptors attached to it. A peer that
// closed its end yields io.EOF.
func (c *Conn) ReadRecord() ([]byte, []*os.File, error) {
	if c.buf == nil {
		c.buf = make([]byte, c.limit+1)
		c.oob = make([]byte, unix.CmsgSpace(maxFDsPerMessage*4))
	}
	n, oobn, flags, _, err := c.uc.ReadMsgUnix(c.buf, c.oob)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, nil, io.EOF
		}
		return nil, nil, err
	}
	files, ferr := parseRights(c.oob[:oobn])
	if flags&(unix.MSG_TRUNC|unix.MSG_CTRUNC) != 0 || n > c.limit {
		closeAll(files)
		return nil, nil, ErrMessageTooLarge
	}
	if ferr != nil {
		closeAll(files)
		return nil, nil, ferr
	}
	if n == 0 {
		closeAll(files)
		return nil, nil, io.EOF
	}
	out := make([]byte, n)
	copy(out, c.buf[:n])
	return out, files, nil
}

// Send encodes and writes an envelope.
func (c *Conn) Send(e Envelope, files ...*os.File) error {
	b, err := Marshal(e)
	if err != nil {
		return err
	}
	return c.WriteRecord(b, files...)
}

// Recv reads and decodes the next envelope. On a decode error the received
// descriptors are closed and the raw error is returned.
func (c *Conn) Recv() (Envelope, []*os.File, error) {
	b, files, err := c.ReadRecord()
	if err != nil {
		return Envelope{}, nil, err
	}
	e, err := Unmarshal(b)
	if err != nil {
		closeAll(files)
		return e, nil, err
	}
	return e, files, nil
}

// CloseWrite shuts down the sending side; the peer's next read returns EOF.
func (c *Conn) CloseWrite() error { return c.uc.CloseWrite() }

// Close closes the socket. Pending reads return io.EOF.
func (c *Conn) Close() error { return c.uc.Close() }

func parseRights(oob []byte) ([]*os.File, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("parse control message: %w", err)
	}
	var files []*os.File
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		for _, fd := range fds {
			unix.CloseOnExec(fd)
			files = append(files, os.NewFile(uintptr(fd), "relay"))
		}
	}
	return files, nil
}

func closeAll(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
