// Command trickle is a terminal client for a streaming chat backend.
//
// Usage:
//
//	TRICKLE_TOKEN=... trickle [flags]
//
// Each line read from stdin is sent as a prompt and the reply is streamed
// back. Ctrl-C cancels a reply in progress; at the prompt it exits.
//
// Commands:
//
//	:open N   show code block N of the last reply as an artifact
//	:close    close the current artifact
//	:quit     exit
//
// Flags:
//
//	-base-url string    Chat backend base URL
//	-token string       Bearer token (overrides TRICKLE_TOKEN)
//	-thread string      Conversation thread ID (default "1")
//	-session string     Client session ID sent with each request
//	-log-level string   Log level: debug, info, warn, error (default "warn")
//	-transcript string  Path to JSON transcript file (disabled if empty)
//	-live               Print text as it streams (default true)
//	-width int          Wrap formatted text to this width
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/caarlos0/env/v11"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "trickle: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args, env.ToMap(os.Environ()), os.Stderr)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	a, err := newApp(cfg, logger, os.Stdout, nil)
	if err != nil {
		return err
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	return a.run(context.Background(), os.Stdin, interrupts)
}
