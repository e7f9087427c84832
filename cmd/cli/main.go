// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/adiadia/webhook-runtime/internal/logging"
)

var errUsage = errors.New("usage")

type command struct {
	name  string
	args  string
	help  string
	nargs [2]int // min, max positional arguments
	run   func(ctx context.Context, logger *slog.Logger, args []string) error
}

var commands = []command{
	{
		name:  "migrate",
		help:  "apply schema and queue migrations",
		nargs: [2]int{0, 0},
		run: func(ctx context.Context, logger *slog.Logger, _ []string) error {
			return runMigrate(ctx, logger)
		},
	},
	{
		name:  "redeliver",
		args:  "<event-id>",
		help:  "queue another delivery of one event",
		nargs: [2]int{1, 1},
		run: func(ctx context.Context, logger *slog.Logger, args []string) error {
			return runRedeliver(ctx, logger, args[0])
		},
	},
	{
		name:  "redeliver-failed",
		args:  "[limit]",
		help:  "queue failed events, newest first",
		nargs: [2]int{0, 1},
		run: func(ctx context.Context, logger *slog.Logger, args []string) error {
			limit := 0
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("%w: limit must be a positive integer", errUsage)
				}
				limit = n
			}
			return runRedeliverFailed(ctx, logger, limit)
		},
	},
	{
		name:  "endpoints",
		args:  "<file>",
		help:  "parse an endpoints file and list its entries",
		nargs: [2]int{1, 1},
		run: func(_ context.Context, logger *slog.Logger, args []string) error {
			return runCheckEndpoints(os.Stdout, logger, args[0])
		},
	},
	{
		name:  "validate",
		help:  "gofmt, go vet, unit tests (RUN_INTEGRATION=1 adds integration tests)",
		nargs: [2]int{0, 0},
		run: func(ctx context.Context, logger *slog.Logger, _ []string) error {
			return runValidate(ctx, logger)
		},
	},
}

func main() {
	logger := logging.New(os.Stderr, os.Getenv("ENV"), "cli")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := dispatch(ctx, logger, os.Args[1:])
	stop()

	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		_, _ = fmt.Fprintln(os.Stderr, err)
		printUsage(os.Stderr)
		os.Exit(2)
	default:
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, logger *slog.Logger, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	cmd, ok := lookupCommand(argv[0])
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, argv[0])
	}

	args := argv[1:]
	if len(args) < cmd.nargs[0] || len(args) > cmd.nargs[1] {
		return fmt.Errorf("%w: %s %s", errUsage, cmd.name, cmd.args)
	}
	return cmd.run(ctx, logger, args)
}

func lookupCommand(name string) (command, bool) {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: cli <command>\n\ncommands:")
	for _, cmd := range commands {
		_, _ = fmt.Fprintf(w, "  %-28s %s\n", cmd.name+" "+cmd.args, cmd.help)
	}
}
