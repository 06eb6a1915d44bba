package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/guseggert/wsexec/bridge"
	"github.com/guseggert/wsexec/internal/config"
	"github.com/guseggert/wsexec/session"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := &cli.App{
		Name:  "wsexec",
		Usage: "run shell commands over a WebSocket connection",
		Commands: []*cli.Command{
			serveCommand,
			runCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "accept WebSocket connections and run the commands they send (no authentication, trusted networks only)",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to a YAML config file. Defaults to the nearest " + config.FileName + " in the working directory or its parents.",
		},
		&cli.StringFlag{
			Name:  "listen-addr",
			Usage: "The address for the WebSocket server to listen on.",
		},
		&cli.StringFlag{
			Name:  "shell",
			Usage: "The shell that interprets commands.",
		},
		&cli.DurationFlag{
			Name:  "max-runtime",
			Usage: "Kill commands that run longer than this. 0 means no limit.",
		},
		&cli.StringSliceFlag{
			Name:  "allowed-origin",
			Usage: "A host pattern allowed to connect cross-origin. May be repeated.",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "One of [debug,info,warn,error].",
		},
	},
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx.String("config"))
		if err != nil {
			return err
		}
		if ctx.IsSet("listen-addr") {
			cfg.ListenAddr = ctx.String("listen-addr")
		}
		if ctx.IsSet("shell") {
			cfg.Shell.Path = ctx.String("shell")
		}
		if ctx.IsSet("max-runtime") {
			cfg.Session.MaxRuntime = ctx.Duration("max-runtime")
		}
		if ctx.IsSet("allowed-origin") {
			cfg.AllowedOrigins = ctx.StringSlice("allowed-origin")
		}
		if ctx.IsSet("log-level") {
			cfg.Log.Level = ctx.String("log-level")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err := newLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		defer logger.Sync()

		b, err := bridge.New(
			bridge.WithLogger(logger),
			bridge.WithListenAddr(cfg.ListenAddr),
			bridge.WithShell(cfg.Shell.Path, cfg.Shell.Args...),
			bridge.WithMaxRuntime(cfg.Session.MaxRuntime),
			bridge.WithMaxLineBytes(cfg.Session.MaxLineBytes),
			bridge.WithQueueSize(cfg.Session.QueueSize),
			bridge.WithReadLimit(cfg.Session.ReadLimit),
			bridge.WithOriginPatterns(cfg.AllowedOrigins...),
		)
		if err != nil {
			return fmt.Errorf("building bridge: %w", err)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			logger.Sugar().Infow("received signal, shutting down", "Signal", sig.String())
			if err := b.Stop(); err != nil {
				logger.Sugar().Debugf("error stopping bridge: %s", err)
			}
		}()

		return b.Run()
	},
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "run commands on a bridge, printing stdout and stderr lines locally",
	ArgsUsage: "[command...]",
	Description: "Each argument is sent as one command, in order, on a single connection. " +
		"With no arguments, commands are read from stdin, one per line.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "The address of the bridge.",
			Value: "127.0.0.1:8080",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "Log connection details to stderr.",
		},
	},
	Action: func(ctx *cli.Context) error {
		level := zapcore.WarnLevel
		if ctx.Bool("verbose") {
			level = zapcore.DebugLevel
		}
		logger, err := newLogger(config.LogConfig{Level: level.String(), Development: true})
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		defer logger.Sync()

		client, err := bridge.NewClient(logger.Sugar(), ctx.String("addr"))
		if err != nil {
			return fmt.Errorf("building client: %w", err)
		}

		runCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		conn, err := client.Dial(runCtx)
		if err != nil {
			return err
		}
		defer conn.Close()

		commands := ctx.Args().Slice()
		if len(commands) > 0 {
			for _, command := range commands {
				if err := runOne(runCtx, conn, command); err != nil {
					return err
				}
			}
			return nil
		}

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := runOne(runCtx, conn, scanner.Text()); err != nil {
				return err
			}
		}
		return scanner.Err()
	},
}

func runOne(ctx context.Context, conn *session.Conn, command string) error {
	return conn.Run(ctx, command, func(f session.Frame) error {
		if f.IsStderr() {
			_, err := fmt.Fprintln(os.Stderr, f.Text())
			return err
		}
		_, err := fmt.Fprintln(os.Stdout, string(f))
		return err
	})
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
		path, err = config.Find(wd)
		if err != nil {
			return nil, fmt.Errorf("finding config file: %w", err)
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
