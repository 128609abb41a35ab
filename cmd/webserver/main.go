// Command webserver runs the non-blocking HTTP/1.0 file server: config
// load, logger construction, reactor and dispatch queue wiring, and a
// zero-downtime accept loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudflare/tableflip"
	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/nbfsd/webserver/internal/config"
	"github.com/nbfsd/webserver/internal/queue"
	"github.com/nbfsd/webserver/internal/reactor"
	"github.com/nbfsd/webserver/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	listenOverride := flag.String("listen", "", "override the listen address from the config file")
	pidFile := flag.String("pid-file", "", "tableflip PID file (upgraded processes share it)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listenOverride != "" {
		cfg.Listen = *listenOverride
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := buildLogger(cfg)

	if err := run(cfg, log, *pidFile); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func buildLogger(cfg config.Config) zerolog.Logger {
	var sink io.Writer = os.Stderr
	if cfg.LogFile != "" {
		sink = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSize,
			MaxAge:     cfg.LogMaxAge,
			MaxBackups: cfg.LogBackups,
		}
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(sink).Level(level).With().Timestamp().Logger()
}

func run(cfg config.Config, log zerolog.Logger, pidFile string) error {
	upg, err := tableflip.New(tableflip.Options{PIDFile: pidFile})
	if err != nil {
		return fmt.Errorf("tableflip.New: %w", err)
	}
	defer upg.Stop()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGHUP)
		for range sig {
			log.Info().Msg("received SIGHUP, upgrading")
			if err := upg.Upgrade(); err != nil {
				log.Error().Err(err).Msg("upgrade failed")
			}
		}
	}()

	ln, err := upg.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("upg.Listen: %w", err)
	}
	defer ln.Close()

	re, err := reactor.New(log.With().Str("component", "reactor").Logger())
	if err != nil {
		return fmt.Errorf("reactor.New: %w", err)
	}
	defer re.Close()

	inputQ := queue.New("input", cfg.QueueBacklog)
	processQ := queue.New("process", cfg.QueueBacklog)
	outputQ := queue.New("output", cfg.QueueBacklog)
	defer inputQ.Close()
	defer processQ.Close()
	defer outputQ.Close()

	srv := &server.Server{
		Root:        cfg.Root,
		Reactor:     re,
		InputQueue:  inputQ,
		ProcessQ:    processQ,
		OutputQueue: outputQ,
		Log:         log.With().Str("component", "server").Logger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx, ln) }()

	log.Info().Str("listen", cfg.Listen).Str("root", cfg.Root).Msg("serving")
	if err := upg.Ready(); err != nil {
		return fmt.Errorf("upg.Ready: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-upg.Exit():
		log.Info().Msg("tableflip exit requested, shutting down")
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("signal received, shutting down")
	}

	cancel()
	return <-serveErr
}
