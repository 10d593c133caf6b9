// Package supervisor starts and watches the worker process. It owns the
// control channel (a SOCK_SEQPACKET socketpair passed to the child as fd 3),
// relays the child's stdout and stderr to the controller log as diagnostics,
// and reports the process exit.
package supervisor

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sessiond/internal/metrics"
	"sessiond/internal/protocol"
)

// ControlFD is the descriptor number of the control channel in the worker.
const ControlFD = 3

// ControlFDEnv tells the worker where to find the control channel.
const ControlFDEnv = "SESSIOND_CONTROL_FD"

const inboxSize = 64

// Config describes how to start a worker.
type Config struct {
	Bin  string
	Args []string
	// Env is appended to the controller's environment.
	Env []string
	Dir string
}

// SpawnError reports a worker that could not be started.
type SpawnError struct{ Err error }

func (e *SpawnError) Error() string { return "spawn worker: " + e.Err.Error() }
func (e *SpawnError) Unwrap() error { return e.Err }

// IsSpawnError reports whether err came from a failed spawn.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}

// Supervisor spawns workers with a fixed configuration.
type Supervisor struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, log: log.With().Str("component", "supervisor").Logger()}
}

// Message is one record read from the control channel. Err is set when the
// record could not be decoded; Envelope is then incomplete.
type Message struct {
	protocol.Envelope
	Err error
}

// Worker is a running worker process and its control channel.
type Worker struct {
	cmd  *exec.Cmd
	conn *protocol.Conn
	log  zerolog.Logger
	pid  int

	inbox chan Message
	done  chan struct{}

	mu      sync.Mutex
	exitErr error
	killed  bool
	started time.Time
}

// Spawn starts a worker process. The returned Worker is live until Done is
// closed; callers must eventually Kill it or see it exit.
func (s *Supervisor) Spawn() (*Worker, error) {
	parent, child, err := protocol.SocketPair("control")
	if err != nil {
		metrics.WorkerSpawned(false)
		return nil, &SpawnError{Err: err}
	}

	cmd := exec.Command(s.cfg.Bin, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", ControlFDEnv, ControlFD))
	cmd.ExtraFiles = []*os.File{child}
	cmd.SysProcAttr = sysProcAttr()

	fail := func(err error) (*Worker, error) {
		_ = parent.Close()
		_ = child.Close()
		metrics.WorkerSpawned(false)
		return nil, &SpawnError{Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail(err)
	}
	if err := cmd.Start(); err != nil {
		return fail(err)
	}
	_ = child.Close()

	conn, err := protocol.NewConn(parent)
	_ = parent.Close()
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		metrics.WorkerSpawned(false)
		return nil, &SpawnError{Err: err}
	}

	pid := cmd.Process.Pid
	w := &Worker{
		cmd:     cmd,
		conn:    conn,
		log:     s.log.With().Int("pid", pid).Logger(),
		pid:     pid,
		inbox:   make(chan Message, inboxSize),
		done:    make(chan struct{}),
		started: time.Now(),
	}
	metrics.WorkerSpawned(true)
	w.log.Info().Str("bin", s.cfg.Bin).Strs("args", s.cfg.Args).Msg("worker started")

	var diag sync.WaitGroup
	diag.Add(2)
	go w.relayDiagnostics(&diag, stdout, "stdout")
	go w.relayDiagnostics(&diag, stderr, "stderr")
	go w.readLoop()
	go w.waitLoop(&diag)
	return w, nil
}

// PID returns the worker's process id.
func (w *Worker) PID() int { return w.pid }

// Send writes one envelope to the worker, optionally transferring files.
// Sends are delivered in call order.
func (w *Worker) Send(env protocol.Envelope, files ...*os.File) error {
	if err := w.conn.Send(env, files...); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

// Inbox delivers messages from the worker in arrival order. It is closed when
// the control channel reaches end of file.
func (w *Worker) Inbox() <-chan Message { return w.inbox }

// Done is closed once the process has exited and been reaped.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Exited reports whether Done is closed.
func (w *Worker) Exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the error from Wait once the process has exited.
func (w *Worker) ExitErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exitErr
}

// Killed reports whether Kill was used on this worker.
func (w *Worker) Killed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.killed
}

// Uptime returns how long the worker has been running.
func (w *Worker) Uptime() time.Duration { return time.Since(w.started) }

// Kill forcibly terminates the process. Calling it more than once, or after
// the process exited, is harmless.
func (w *Worker) Kill() {
	if w.Exited() {
		return
	}
	w.mu.Lock()
	if w.killed {
		w.mu.Unlock()
		return
	}
	w.killed = true
	w.mu.Unlock()
	if err := w.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		w.log.Warn().Err(err).Msg("kill worker")
		return
	}
	metrics.WorkerKilled()
	w.log.Warn().Msg("worker killed")
}

func (w *Worker) readLoop() {
	defer close(w.inbox)
	defer w.conn.Close()
	for {
		env, files, err := w.conn.Recv()
		for _, f := range files {
			_ = f.Close()
		}
		if err != nil {
			var opErr *net.OpError
			if errors.Is(err, io.EOF) || errors.As(err, &opErr) {
				return
			}
			w.log.Warn().Err(err).Msg("malformed message from worker")
		}
		w.deliver(Message{Envelope: env, Err: err})
	}
}

func (w *Worker) deliver(m Message) {
	select {
	case w.inbox <- m:
	case <-w.done:
		select {
		case w.inbox <- m:
		default:
			w.log.Debug().Str("type", string(m.Type)).Msg("dropping message from exited worker")
		}
	}
}

func (w *Worker) waitLoop(diag *sync.WaitGroup) {
	// Pipes must be drained before Wait closes them.
	diag.Wait()
	err := w.cmd.Wait()

	w.mu.Lock()
	w.exitErr = err
	killed := w.killed
	w.mu.Unlock()

	reason := "clean"
	switch {
	case killed:
		reason = "killed"
	case err != nil:
		reason = "crash"
	}
	metrics.WorkerExited(reason)
	ev := w.log.Info()
	if reason == "crash" {
		ev = w.log.Error()
	}
	ev.Err(err).Str("reason", reason).Dur("uptime", w.Uptime()).Msg("worker exited")
	close(w.done)
}

// relayDiagnostics copies the child's output into the controller log, one
// event per line. Lines that are JSON objects (the worker's own zerolog
// output) are embedded as-is.
func (w *Worker) relayDiagnostics(wg *sync.WaitGroup, r io.Reader, stream string) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), protocol.MaxMessageSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		ev := w.log.Info().Str("stream", stream)
		if line[0] == '{' && json.Valid(line) {
			ev.RawJSON("worker", line).Msg("worker log")
			continue
		}
		ev.Msg(string(line))
	}
	// Keep draining after an overlong line so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}
