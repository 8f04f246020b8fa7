package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/andy6609/presence-chat/internal/chat"
	"github.com/andy6609/presence-chat/internal/config"
	"github.com/andy6609/presence-chat/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chat-server:", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional and never overrides variables already set.
	_ = godotenv.Load()

	defaults := config.Default()
	configPath := flag.String("config", os.Getenv("CHAT_CONFIG"), "path to a YAML config file")
	addr := flag.String("addr", defaults.Addr, "chat listen address")
	httpAddr := flag.String("http-addr", defaults.HTTPAddr, "metrics, health and websocket listen address (empty disables)")
	logLevel := flag.String("log-level", defaults.LogLevel, "log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", defaults.LogFormat, "log format: text or json")
	maxLine := flag.Int("max-line-bytes", defaults.MaxLineBytes, "longest accepted inbound line")
	sendBuffer := flag.Int("send-buffer", defaults.SendBuffer, "queued outbound lines per session")
	writeTimeout := flag.Duration("write-timeout", defaults.WriteTimeout, "per-line write deadline (0 disables)")
	shutdownTimeout := flag.Duration("shutdown-timeout", defaults.ShutdownTimeout, "time allowed for sessions to finish on shutdown")
	origins := flag.String("allowed-origins", defaults.AllowedOrigins, "comma separated websocket origins (empty or * allows any)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	// Only flags given on the command line override the file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "http-addr":
			cfg.HTTPAddr = *httpAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		case "max-line-bytes":
			cfg.MaxLineBytes = *maxLine
		case "send-buffer":
			cfg.SendBuffer = *sendBuffer
		case "write-timeout":
			cfg.WriteTimeout = *writeTimeout
		case "shutdown-timeout":
			cfg.ShutdownTimeout = *shutdownTimeout
		case "allowed-origins":
			cfg.AllowedOrigins = *origins
		}
	})

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}

	srv := chat.NewServer(cfg, logger)
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received", "signal", sig.String())

	start := time.Now()
	srv.Stop()
	logger.Info("server stopped", slog.Duration("took", time.Since(start)))
	return nil
}
