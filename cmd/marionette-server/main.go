// Command marionette-server runs the realtime humanoid control service:
// a latent-context engine over a WASM policy, a fixed-rate simulation
// loop, websocket command and broadcast channels, WebRTC streaming and
// trajectory recording.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nmxmxh/marionette/internal/broadcast"
	"github.com/nmxmxh/marionette/internal/config"
	"github.com/nmxmxh/marionette/internal/dispatch"
	"github.com/nmxmxh/marionette/internal/latent"
	"github.com/nmxmxh/marionette/internal/media"
	"github.com/nmxmxh/marionette/internal/physics"
	"github.com/nmxmxh/marionette/internal/policy"
	"github.com/nmxmxh/marionette/internal/recording"
	"github.com/nmxmxh/marionette/internal/server"
	"github.com/nmxmxh/marionette/internal/simloop"
	"github.com/nmxmxh/marionette/internal/utils"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "marionette-server:", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Configuration and logging.
	cfg, err := config.DefaultServerConfig().FromEnv()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	level := utils.ParseLevel(cfg.LogLevel)
	slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel(cfg.LogLevel)}))
	logger := componentLogger(level, "server")

	logger.Info("Starting marionette server",
		utils.String("channel", cfg.ChannelAddr()),
		utils.String("media", cfg.MediaAddr()),
	)

	// 2. Model assets: reward buffer, policy, environment.
	buffer, err := latent.LoadRewardBuffer(cfg.BufferPath)
	if err != nil {
		return fmt.Errorf("load reward buffer: %w", err)
	}
	pol, err := policy.LoadWasmPolicy(cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	defer pol.Close()
	env, err := physics.LoadWasmEnvironment(cfg.EnvPath)
	if err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	defer env.Close()

	// 3. Latent engine, warmed so clients never see an empty context.
	sampler, err := latent.NewSampler(cfg.SamplerKind, buffer, time.Now().UnixNano())
	if err != nil {
		return err
	}
	cache := latent.NewCache(cfg.CacheCapacity, cfg.CacheDir, componentLogger(level, "cache"))
	engine := latent.NewEngine(pol, buffer, cache, sampler, componentLogger(level, "latent"))
	if err := engine.SetBatchSize(cfg.BatchSize); err != nil {
		return err
	}
	warmSpec := latent.DefaultSpec()
	warmCtx, err := engine.ComputeSync(warmSpec)
	if err != nil {
		return fmt.Errorf("warm default context: %w", err)
	}
	engine.SetDefaultContext(warmCtx)
	state := dispatch.NewState()
	state.Apply(warmCtx, &warmSpec, "")

	// 4. Fan-out surfaces: command subscribers and media sessions.
	registry := broadcast.NewRegistry(slogger)
	sessions, err := media.NewSessionManager(media.ManagerConfig{}, slogger)
	if err != nil {
		return fmt.Errorf("media sessions: %w", err)
	}

	// 5. Recorder, loop, dispatcher. The auto-stop callback cannot fire
	// before its timer elapses, so binding the dispatcher late is safe.
	var dispatcher *dispatch.Dispatcher
	recorder := recording.NewManager(recording.ManagerConfig{
		DownloadsDir: cfg.DownloadsDir,
		FramesDir:    cfg.SharedFramesDir,
		TargetFPS:    cfg.TargetFPS,
		OnAutoStop: func(result *recording.Result) {
			if dispatcher != nil {
				dispatcher.HandleAutoStop(result)
			}
		},
	}, componentLogger(level, "recording"))

	loop, err := simloop.New(simloop.Deps{
		Env:      env,
		Policy:   pol,
		Contexts: state,
		States:   registry,
		Frames:   sessions,
		Recorder: recorder,
		Logger:   componentLogger(level, "simloop"),
	}, simloop.Config{TargetFPS: cfg.TargetFPS})
	if err != nil {
		return err
	}
	engine.SetProber(loop)

	dispatcher, err = dispatch.New(dispatch.Deps{
		Engine:   engine,
		Registry: registry,
		Recorder: recorder,
		Sim:      loop,
		Sessions: sessions,
		State:    state,
		Logger:   componentLogger(level, "dispatch"),
	})
	if err != nil {
		return err
	}

	// 6. Serve.
	if err := loop.Start(); err != nil {
		return err
	}
	srv, err := server.New(server.Config{
		ChannelAddr:    cfg.ChannelAddr(),
		MediaAddr:      cfg.MediaAddr(),
		DownloadsDir:   cfg.DownloadsDir,
		MaxConnections: cfg.MaxConnections,
	}, server.Deps{
		Commands: dispatcher,
		Media:    sessions,
		Loop:     loop,
		Recorder: recorder,
		Peers:    registry,
		Logger:   slogger,
	})
	if err != nil {
		loop.Stop()
		return err
	}
	if err := srv.Start(); err != nil {
		loop.Stop()
		return err
	}

	// 7. Ordered teardown: listeners first, stateful owners last.
	shutdown := utils.NewGracefulShutdown(shutdownTimeout, componentLogger(level, "shutdown"))
	shutdown.Register("media sessions", func() error { sessions.Close(); return nil })
	shutdown.Register("recorder", func() error { recorder.Close(); return nil })
	shutdown.Register("simulation loop", func() error { loop.Stop(); return nil })
	shutdown.Register("subscribers", func() error { registry.Close(); return nil })
	shutdown.Register("listeners", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	received := <-sig
	logger.Info("Signal received, shutting down", utils.String("signal", received.String()))

	return shutdown.Shutdown(context.Background())
}

func componentLogger(level utils.LogLevel, component string) *utils.Logger {
	return utils.NewLogger(utils.LoggerConfig{
		Level:     level,
		Component: component,
		Output:    os.Stdout,
		Colorize:  true,
	})
}

func slogLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
