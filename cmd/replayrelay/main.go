// Command replayrelay runs the replay relay server: it loads configuration,
// builds the structured logger, starts the TCP listener and its ambient
// subsystems, then waits for SIGINT/SIGTERM to drain and exit.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/replayrelay/internal/config"
	"github.com/adred-codev/replayrelay/internal/logging"
	"github.com/adred-codev/replayrelay/internal/server"
)

// shutdownGrace bounds how long Shutdown waits for in-flight connections to
// drain before forcing exit.
const shutdownGrace = 10 * time.Second

func main() {
	var (
		debug  = flag.Bool("debug", false, "enable debug logging (default level is info)")
		pretty = flag.Bool("pretty", false, "use console-formatted log output instead of JSON")
	)
	flag.Parse()

	bootLogger := logging.New(logging.Config{Level: "info", Format: logging.FormatJSON})

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logFormat := logging.FormatJSON
	if *pretty {
		logFormat = logging.FormatPretty
	}
	logLevel := "info"
	if *debug {
		logLevel = "debug"
	}
	logger := logging.New(logging.Config{Level: logLevel, Format: logFormat})

	cfg.LogConfig(logger)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	srv.Shutdown(shutdownGrace)
}
