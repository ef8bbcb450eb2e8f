package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/flowerschoolbengaluru/flowerschool/config"
	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
)

type command struct {
	usage string
	run   func(ctx context.Context, app *app, args []string) error
}

var commands = map[string]command{
	"devserver": {"devserver [--addr :5000] [--admin email:password]   run the development backend", runDevServer},
	"signup":    {"signup <email> --first NAME --last NAME [--phone N]  create an account", runSignUp},
	"signin":    {"signin <email>                                       sign in (password on stdin)", runSignIn},
	"whoami":    {"whoami                                               show the stored session", runWhoAmI},
	"signout":   {"signout                                              sign out", runSignOut},
	"recover":   {"recover <email-or-phone>                             reset a forgotten password", runRecover},
	"courses":   {"courses                                              list courses", runCourses},
	"book":      {"book <course-id> [--now] [attendee flags]            book a course or workshop", runBook},
	"admin":     {"admin                                                check access to the admin dashboard", runAdmin},
	"subscribe": {"subscribe <email>                                    join the newsletter", runSubscribe},
}

// app holds what every command shares.
type app struct {
	cfg     *config.Config
	logger  logr.Logger
	slogger *slog.Logger
	in      *bufio.Reader
	out     io.Writer
	errOut  io.Writer
}

func usage(fs *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: flowerschool [flags] <command> [args]")
	fmt.Fprintln(os.Stderr, "\ncommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(os.Stderr, "  "+commands[name].usage)
	}
	fmt.Fprintln(os.Stderr, "\nflags:")
	fs.PrintDefaults()
}

func main() {
	fs := pflag.NewFlagSet("flowerschool", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	config.Flags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			usage(fs)
			os.Exit(0)
		}
		usage(fs)
		os.Exit(2)
	}
	if fs.NArg() == 0 {
		usage(fs)
		os.Exit(2)
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", fs.Arg(0))
		usage(fs)
		os.Exit(2)
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// load logger
	opts := &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}
	var handler slog.Handler = slog.NewJSONHandler(os.Stderr, opts)
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	a := &app{
		cfg:     cfg,
		logger:  logr.FromSlogHandler(handler),
		slogger: slog.New(handler),
		in:      bufio.NewReader(os.Stdin),
		out:     os.Stdout,
		errOut:  os.Stderr,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, a, fs.Args()[1:]); err != nil {
		a.logger.Error(err, "command failed", "command", fs.Arg(0))
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
