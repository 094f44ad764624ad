package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/1broseidon/hostview/internal/config"
	"github.com/1broseidon/hostview/internal/daemon"
	"github.com/1broseidon/hostview/internal/ipc"
	"github.com/1broseidon/hostview/internal/platform"
	"github.com/1broseidon/hostview/internal/runtimepath"
)

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	path := fs.String("path", "", "Config file path (default: ~/.config/hostview/config.yaml)")
	platformName := fs.String("platform", "", "Windowing provider: auto, x11 or headless (default: from config)")
	socket := fs.String("socket", "", "IPC socket path (default: from config or $XDG_RUNTIME_DIR/hostview.sock)")
	keep := fs.Bool("keep-on-close", false, "Leave windows open on close requests; automation decides")
	noWatch := fs.Bool("no-watch", false, "Do not reload the config file when it changes")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: hostview daemon [--path PATH] [--platform NAME] [--socket PATH] [--keep-on-close] [--no-watch]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Run the window runtime in the foreground. SIGHUP reloads the config.")
		fmt.Fprintln(os.Stderr, "")
		fs.PrintDefaults()
	}
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "daemon takes no arguments")
		fs.Usage()
		return 2
	}

	cfgPath, err := configPath(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	res, err := config.LoadFromPath(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	cfg := res.Config

	logger, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeLog()

	if err := serveDaemon(daemonOptions{
		configPath:  cfgPath,
		config:      cfg,
		platform:    firstNonEmpty(*platformName, cfg.Platform),
		socket:      firstNonEmpty(*socket, cfg.SocketPath),
		keepOnClose: *keep,
		watch:       !*noWatch,
	}, logger); err != nil {
		logger.Error("daemon stopped", "error", err)
		return 1
	}
	return 0
}

type daemonOptions struct {
	configPath  string
	config      *config.Config
	platform    string
	socket      string
	keepOnClose bool
	watch       bool
}

// serveDaemon runs the runtime on the calling goroutine and everything else
// beside it until a signal arrives or a component fails.
func serveDaemon(opts daemonOptions, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	socketPath, err := runtimepath.SocketPath(opts.socket)
	if err != nil {
		return fmt.Errorf("failed to resolve socket path: %w", err)
	}
	if err := ipc.NewClient(socketPath).Ping(); err == nil {
		return fmt.Errorf("a daemon is already listening on %s", socketPath)
	}

	plat, err := platform.Open(opts.platform)
	if err != nil {
		return fmt.Errorf("failed to open platform %q: %w", opts.platform, err)
	}
	defer plat.Close()

	rt, err := daemon.New(daemon.Config{
		Platform:           plat,
		Settings:           opts.config,
		Logger:             logger,
		KeepOnCloseRequest: opts.keepOnClose,
	})
	if err != nil {
		return err
	}

	reload := func() error {
		res, err := config.LoadFromPath(opts.configPath)
		if err != nil {
			return err
		}
		return rt.SetConfig(res.Config)
	}

	srv, err := ipc.NewServer(socketPath, rt, reload, logger)
	if err != nil {
		return err
	}

	removePID, err := writePIDFile()
	if err != nil {
		logger.Warn("failed to write pid file", "error", err)
	} else {
		defer removePID()
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-rt.Started():
		case <-gctx.Done():
			return nil
		}
		return srv.Serve(gctx)
	})
	if opts.watch {
		watcher := config.NewWatcher(opts.configPath, func(res *config.LoadResult) {
			if err := rt.SetConfig(res.Config); err != nil {
				logger.Warn("reloaded config rejected", "error", err)
			}
		}, logger)
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				logger.Warn("config watcher disabled", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				logger.Info("received SIGHUP, reloading config")
				if err := reload(); err != nil {
					logger.Warn("config reload failed", "error", err)
				}
			}
		}
	})

	logger.Info("hostview daemon started", "platform", plat.Name(), "socket", socketPath, "config", opts.configPath)
	runErr := rt.Run(gctx)
	cancel()
	groupErr := g.Wait()
	logger.Info("hostview daemon stopped")
	return errors.Join(runErr, groupErr)
}

// newLogger builds the daemon logger from the logging section. The returned
// func closes the log file, if any.
func newLogger(cfg config.LoggingConfig) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

func writePIDFile() (func(), error) {
	path, err := runtimepath.PIDPath()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		return nil, err
	}
	return func() { _ = os.Remove(path) }, nil
}

func configPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	return config.DefaultConfigPath()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
