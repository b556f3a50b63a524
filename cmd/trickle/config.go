package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Config holds the command's settings. Environment variables are read first;
// flags override them.
type Config struct {
	BaseURL    string `env:"BASE_URL" envDefault:"https://ai-bot-bepyth.onrender.com"`
	Token      string `env:"TOKEN"`
	ThreadID   string `env:"THREAD_ID" envDefault:"1"`
	SessionID  string `env:"SESSION_ID"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"warn"`
	Transcript string `env:"TRANSCRIPT"`
	Live       bool   `env:"LIVE" envDefault:"true"`
	Width      int    `env:"WIDTH" envDefault:"0"`
}

// loadConfig parses environ (KEY=VALUE map, TRICKLE_ prefix) and then args.
func loadConfig(args []string, environ map[string]string, errOut io.Writer) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      "TRICKLE_",
		Environment: environ,
	}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	fs := flag.NewFlagSet("trickle", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Chat backend base URL")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "Bearer token (overrides TRICKLE_TOKEN)")
	fs.StringVar(&cfg.ThreadID, "thread", cfg.ThreadID, "Conversation thread ID")
	fs.StringVar(&cfg.SessionID, "session", cfg.SessionID, "Client session ID sent with each request")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.Transcript, "transcript", cfg.Transcript, "Path to JSON transcript file (disabled if empty)")
	fs.BoolVar(&cfg.Live, "live", cfg.Live, "Print text as it streams instead of a formatted reply")
	fs.IntVar(&cfg.Width, "width", cfg.Width, "Wrap formatted text to this width (0 disables)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	return cfg, nil
}

func newLogger(cfg Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
		Level(level).
		With().Timestamp().Logger()
}
