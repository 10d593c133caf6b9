package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"sessiond/internal/common/fsutil"
	"sessiond/internal/config"
	"sessiond/internal/httpapi"
	"sessiond/internal/manager"
	"sessiond/internal/registry"
	"sessiond/internal/supervisor"
	"sessiond/pkg/types"
)

const shutdownTimeout = 5 * time.Second

type serveFlags struct {
	configPath string
	cfg        config.Config
	cors       string
	origins    string
	methods    string
	headers    string
	workerArgs string
	loadTO     time.Duration
	promptTO   time.Duration
	stopGrace  time.Duration
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layers, err := loadLayers(f.configPath, os.LookupEnv, f.toConfig())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), f.configPath, layers)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "Config file (.yaml, .yml, .json or .toml)")
	fl.StringVar(&f.cfg.Addr, "addr", "", "HTTP listen address (default :8080)")
	fl.StringVar(&f.cfg.ModelsDir, "models-dir", "", "Directory to scan for *.gguf model files (default ~/models/llm)")
	fl.StringVar(&f.cfg.DefaultModel, "default-model", "", "Model alias used when create names no model")
	fl.StringVar(&f.cfg.WorkerBin, "worker-bin", "", "Worker executable (default: this binary)")
	fl.StringVar(&f.cfg.WorkerEngine, "worker-engine", "", "Worker inference engine: llama or echo (default llama)")
	fl.StringVar(&f.workerArgs, "worker-args", "", "Extra comma-separated worker arguments")
	fl.DurationVar(&f.loadTO, "load-timeout", 0, "Model load timeout (default 60s)")
	fl.DurationVar(&f.promptTO, "prompt-timeout", 0, "Default unary prompt timeout (default 20s)")
	fl.DurationVar(&f.stopGrace, "stop-grace", 0, "Grace period for a worker to stop before it is killed (default 3s)")
	fl.StringVar(&f.cfg.LogLevel, "log-level", "", "Log level: debug|info|warn|error (default info)")
	fl.StringVar(&f.cfg.LogFormat, "log-format", "", "Log format: json|console (default json)")
	fl.StringVar(&f.cors, "cors", "", "Enable CORS: true|false")
	fl.StringVar(&f.origins, "cors-origins", "", "Comma-separated allowed origins")
	fl.StringVar(&f.methods, "cors-methods", "", "Comma-separated allowed methods")
	fl.StringVar(&f.headers, "cors-headers", "", "Comma-separated allowed headers")
	fl.Int64Var(&f.cfg.MaxBodyBytes, "max-body-bytes", 0, "Maximum JSON request body size (default 1MiB)")
	return cmd
}

// toConfig returns the flag layer; unset flags stay zero.
func (f serveFlags) toConfig() config.Config {
	c := f.cfg
	c.LoadTimeout = config.Duration(f.loadTO)
	c.PromptTimeout = config.Duration(f.promptTO)
	c.StopGrace = config.Duration(f.stopGrace)
	c.WorkerArgs = config.SplitCSV(f.workerArgs)
	c.CORSEnabled = f.cors == "true" || f.cors == "1"
	c.CORSAllowedOrigins = config.SplitCSV(f.origins)
	c.CORSAllowedMethods = config.SplitCSV(f.methods)
	c.CORSAllowedHeaders = config.SplitCSV(f.headers)
	return c
}

// layers keeps the environment and flag layers so a reloaded file can be
// merged beneath them again.
type layers struct {
	file, env, flags config.Config
}

func (l layers) effective() config.Config {
	return config.Merge(config.Merge(config.Merge(config.Defaults(), l.file), l.env), l.flags)
}

func loadLayers(path string, lookup func(string) (string, bool), flags config.Config) (layers, error) {
	l := layers{flags: flags}
	if path != "" {
		fc, err := config.Load(path)
		if err != nil {
			return l, fmt.Errorf("load config: %w", err)
		}
		l.file = fc
	}
	ec, err := config.FromEnv(lookup)
	if err != nil {
		return l, err
	}
	l.env = ec
	return l, nil
}

func workerCommand(cfg config.Config) (supervisor.Config, error) {
	bin := cfg.WorkerBin
	if bin == "" {
		exe, err := os.Executable()
		if err != nil {
			return supervisor.Config{}, fmt.Errorf("locate own executable: %w", err)
		}
		bin = exe
	}
	bin, err := fsutil.Resolve(bin)
	if err != nil {
		return supervisor.Config{}, err
	}
	if !fsutil.IsExecutable(bin) {
		return supervisor.Config{}, fmt.Errorf("worker binary %s is not executable", bin)
	}
	args := []string{"worker", "--engine", cfg.WorkerEngine, "--log-level", cfg.LogLevel}
	return supervisor.Config{Bin: bin, Args: append(args, cfg.WorkerArgs...)}, nil
}

func loadRegistry(log zerolog.Logger, dir string) []types.Model {
	reg, err := registry.LoadDir(dir)
	if err != nil {
		log.Warn().Err(err).Str("models_dir", dir).Msg("model registry empty")
		return nil
	}
	log.Info().Int("models", len(reg)).Str("models_dir", dir).Msg("model registry loaded")
	return reg
}

func runServe(parent context.Context, configPath string, l layers) error {
	cfg := l.effective()
	log, err := stderrLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	wcfg, err := workerCommand(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(wcfg, log)
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Spawner:       sup,
		Registry:      loadRegistry(log, cfg.ModelsDir),
		DefaultModel:  cfg.DefaultModel,
		LoadTimeout:   cfg.LoadTimeout.Std(),
		PromptTimeout: cfg.PromptTimeout.Std(),
		StopGrace:     cfg.StopGrace.Std(),
		Logger:        &log,
		Publisher:     manager.LogPublisher{Log: log},
	})

	if err := registry.Watch(ctx, cfg.ModelsDir, func(models []types.Model, err error) {
		if err != nil {
			log.Warn().Err(err).Msg("models dir watch")
			return
		}
		mgr.SetRegistry(models)
		log.Info().Int("models", len(models)).Msg("model registry reloaded")
	}); err != nil {
		log.Warn().Err(err).Msg("models dir not watched")
	}

	if configPath != "" {
		if err := config.Watch(ctx, configPath, func(fc config.Config, err error) {
			if err != nil {
				log.Warn().Err(err).Str("config", configPath).Msg("config reload failed; keeping previous")
				return
			}
			next := l
			next.file = fc
			eff := next.effective()
			mgr.SetPromptTimeout(eff.PromptTimeout.Std())
			log.Info().Dur("prompt_timeout", eff.PromptTimeout.Std()).Msg("config reloaded")
		}); err != nil {
			log.Warn().Err(err).Msg("config not watched")
		}
	}

	httpapi.SetLogger(log)
	httpapi.SetRequestLogLevel(cfg.LogLevel)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSAllowedOrigins, cfg.CORSAllowedMethods, cfg.CORSAllowedHeaders)
	httpapi.SetBaseContext(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("worker", wcfg.Bin).Str("engine", cfg.WorkerEngine).Msg("sessiond listening")
		errc <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown")
	}
	if err := mgr.Destroy(sctx); err != nil {
		log.Warn().Err(err).Msg("destroy session")
	}
	return serveErr
}
