package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rbright/calendarize/internal/app"
	"github.com/rbright/calendarize/internal/config"
)

func main() {
	flags := app.NewFlagSet()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(flags)
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if flags.NArg() > 0 && flags.Arg(0) == "help" {
		printUsage(flags)
		return
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := app.NewLogger(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// watch runs until interrupted; every other command is bounded.
	if flags.Arg(0) != "watch" {
		timeout := cfg.Timeout + 5*time.Second
		if timeout < 10*time.Second {
			timeout = 10 * time.Second
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := app.Run(ctx, flags, cfg, os.Stdout, logger); err != nil {
		logger.Error("command failed", "error", err)
		stop()
		os.Exit(2)
	}
}

func printUsage(flags *pflag.FlagSet) {
	fmt.Println(app.Usage)
	fmt.Print(flags.FlagUsages())
}
