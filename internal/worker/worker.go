// Package worker is the process that hosts the model. It reads envelopes from
// the control channel one at a time and answers them; streaming prompts reply
// on their own relay so several can be open at once.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"sessiond/internal/engine"
	"sessiond/internal/protocol"
	"sessiond/internal/relay"
	"sessiond/internal/supervisor"
	"sessiond/pkg/types"
)

// ErrNotLoaded is reported for prompts that arrive before a model is loaded.
var ErrNotLoaded = errors.New("language model not loaded")

type server struct {
	conn *protocol.Conn
	eng  engine.Engine
	log  zerolog.Logger

	model engine.Model

	// streams are cancelled on STOP and when the model is replaced.
	streamCtx     context.Context
	cancelStreams context.CancelFunc
	streams       sync.WaitGroup
}

// Serve answers envelopes on conn until STOP is handled or the controller
// goes away. Unary requests are handled strictly in arrival order, so every
// reply on the control channel matches the oldest unanswered request.
func Serve(ctx context.Context, conn *protocol.Conn, eng engine.Engine, log zerolog.Logger) error {
	s := &server{conn: conn, eng: eng, log: log}
	s.resetStreams(ctx)
	defer s.shutdown()

	for {
		env, files, err := conn.Recv()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.log.Info().Msg("control channel closed")
				return nil
			case errors.Is(err, protocol.ErrUnknownType):
				s.reply(protocol.Errorf("unsupported message: %v", err))
				continue
			case isDecodeError(err):
				s.reply(protocol.Errorf("malformed message: %v", err))
				continue
			}
			return fmt.Errorf("read control channel: %w", err)
		}

		switch env.Type {
		case protocol.LoadModel:
			closeFiles(files)
			s.handleLoad(ctx, env)
		case protocol.SendPrompt:
			s.handlePrompt(ctx, env, files)
		case protocol.Stop:
			closeFiles(files)
			s.handleStop()
			return nil
		default:
			closeFiles(files)
			s.reply(protocol.Errorf("unexpected message type %s", env.Type))
		}
	}
}

func (s *server) reply(env protocol.Envelope) {
	if err := s.conn.Send(env); err != nil {
		s.log.Error().Err(err).Str("type", string(env.Type)).Msg("send reply")
	}
}

func (s *server) resetStreams(ctx context.Context) {
	s.streamCtx, s.cancelStreams = context.WithCancel(ctx)
}

// drainStreams cancels open relays and waits for their goroutines.
func (s *server) drainStreams(ctx context.Context) {
	s.cancelStreams()
	s.streams.Wait()
	s.resetStreams(ctx)
}

func (s *server) destroyModel() {
	if s.model == nil {
		return
	}
	if err := s.model.Destroy(); err != nil {
		s.log.Warn().Err(err).Msg("destroy model")
	}
	s.model = nil
}

func (s *server) shutdown() {
	s.cancelStreams()
	s.streams.Wait()
	s.destroyModel()
}

func (s *server) handleLoad(ctx context.Context, env protocol.Envelope) {
	var opts types.CreateOptions
	if err := env.Decode(&opts); err != nil {
		s.reply(protocol.Errorf("%v", err))
		return
	}
	if s.model != nil {
		s.drainStreams(ctx)
		s.destroyModel()
	}
	log := s.log.With().Str("model", opts.ModelPath).Logger()
	log.Info().Msg("loading model")
	m, err := s.safeLoad(ctx, opts)
	if err != nil {
		log.Error().Err(err).Msg("load failed")
		s.reply(protocol.Errorf("%v", err))
		return
	}
	s.model = m
	log.Info().Msg("model loaded")
	s.reply(protocol.Envelope{Type: protocol.ModelLoaded})
}

func (s *server) safeLoad(ctx context.Context, opts types.CreateOptions) (m engine.Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic during load: %v", r)
		}
	}()
	return s.eng.Load(ctx, opts)
}

func (s *server) handlePrompt(ctx context.Context, env protocol.Envelope, files []*os.File) {
	var p protocol.SendPromptPayload
	if err := env.Decode(&p); err != nil {
		closeFiles(files)
		s.reply(protocol.Errorf("%v", err))
		return
	}
	if !p.Stream {
		closeFiles(files)
		s.handleUnary(ctx, p)
		return
	}
	if len(files) == 0 {
		s.reply(protocol.Errorf("streaming prompt without relay"))
		return
	}
	closeFiles(files[1:])
	end, err := relay.Attach(files[0])
	if err != nil {
		s.log.Error().Err(err).Msg("attach relay")
		return
	}
	s.streams.Add(1)
	go s.handleStream(s.streamCtx, end, s.model, p)
}

func (s *server) handleUnary(ctx context.Context, p protocol.SendPromptPayload) {
	if s.model == nil {
		s.reply(protocol.Errorf("%v", ErrNotLoaded))
		return
	}
	text, err := s.safePrompt(ctx, p)
	if err != nil {
		s.reply(protocol.Errorf("%v", err))
		return
	}
	env, err := protocol.New(protocol.Done, text)
	if err == nil {
		_, err = protocol.Marshal(env)
	}
	if err != nil {
		s.reply(protocol.Errorf("%v", err))
		return
	}
	s.reply(env)
}

func (s *server) safePrompt(ctx context.Context, p protocol.SendPromptPayload) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic during prompt: %v", r)
		}
	}()
	return s.model.Prompt(ctx, p.Input, p.Options)
}

func (s *server) handleStream(parent context.Context, end *relay.WorkerEnd, model engine.Model, p protocol.SendPromptPayload) {
	defer s.streams.Done()
	defer end.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		end.WaitPeerClosed()
		cancel()
	}()
	// A cancelled parent means STOP or a model swap, not a departed consumer.
	failure := func(msg string) {
		if parent.Err() != nil {
			msg = protocol.StoppedMessage
		}
		_ = end.Send(protocol.Failure(msg))
	}

	if model == nil {
		failure(ErrNotLoaded.Error())
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("engine panic during stream")
			failure(fmt.Sprintf("engine panic during stream: %v", r))
		}
	}()

	chunks := 0
	for chunk, err := range model.PromptStreaming(ctx, p.Input, p.Options) {
		if err != nil {
			failure(err.Error())
			return
		}
		if err := end.Send(protocol.Chunk(chunk)); err != nil {
			if errors.Is(err, protocol.ErrMessageTooLarge) {
				failure(err.Error())
				return
			}
			s.log.Debug().Err(err).Int("chunks", chunks).Msg("relay consumer gone")
			return
		}
		chunks++
	}
	if ctx.Err() != nil {
		failure(ctx.Err().Error())
		return
	}
	_ = end.Send(protocol.Finished())
}

func (s *server) handleStop() {
	s.log.Info().Msg("stop requested")
	s.cancelStreams()
	s.streams.Wait()
	s.destroyModel()
	stopped, _ := protocol.New(protocol.Stopped, protocol.StoppedMessage)
	s.reply(stopped)
}

func isDecodeError(err error) bool {
	return errors.Is(err, protocol.ErrMessageTooLarge) || errors.Is(err, protocol.ErrMalformed)
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// Main runs the worker process: it opens the control channel inherited from
// the supervisor, builds the requested engine and serves until stopped.
func Main(ctx context.Context, engineName string, log zerolog.Logger) error {
	// The controller decides when the worker ends; a terminal ^C reaches the
	// whole process group, so ignore it here.
	signal.Ignore(syscall.SIGINT)

	fd := supervisor.ControlFD
	if v := os.Getenv(supervisor.ControlFDEnv); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", supervisor.ControlFDEnv, v, err)
		}
		fd = n
	}
	f := os.NewFile(uintptr(fd), "control")
	if f == nil {
		return fmt.Errorf("control channel fd %d is not open", fd)
	}
	conn, err := protocol.NewConn(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("open control channel: %w", err)
	}
	defer conn.Close()

	eng, err := engine.New(engineName)
	if err != nil {
		return err
	}
	log = log.With().Str("engine", engineName).Int("pid", os.Getpid()).Logger()
	log.Info().Msg("worker ready")
	return Serve(ctx, conn, eng, log)
}
