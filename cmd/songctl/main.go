// Command songctl submits music generations and tracks them until playable
// audio is available.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	"github.com/shattavibe/api/internal/apperr"
	"github.com/shattavibe/api/internal/config"
	"github.com/shattavibe/api/internal/logger"
)

const usage = `usage: songctl [-log-level level] <command> [flags]

commands:
  generate -prompt TEXT [-instrumental] [-model V5] [-negative-tags TEXT] [-vocal-gender m|f] [-no-wait]
  status TASK_ID
  quota
  library [-limit N]
  device-id
  login -token TOKEN
  logout
  watch
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("songctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	logLevel := global.String("log-level", "warn", "log level (debug, info, warn, error)")
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}
	zlog, err := logger.NewConsole(*logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}
	defer zlog.Sync()

	a := newApp(cfg, afero.NewOsFs(), zlog)
	defer a.Close()

	return dispatch(ctx, a, global.Arg(0), global.Args()[1:], stdout, stderr)
}

func dispatch(ctx context.Context, a *app, name string, args []string, stdout, stderr io.Writer) int {
	commands := map[string]func(context.Context, *app, []string, io.Writer) error{
		"generate":  cmdGenerate,
		"status":    cmdStatus,
		"quota":     cmdQuota,
		"library":   cmdLibrary,
		"device-id": cmdDeviceID,
		"login":     cmdLogin,
		"logout":    cmdLogout,
		"watch":     cmdWatch,
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", name, usage)
		return 2
	}

	if err := cmd(ctx, a, args, stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 2
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		if apperr.IsQuotaExceeded(err) {
			fmt.Fprintln(stderr, "Sign in with `songctl login -token ...` to keep creating.")
			return 3
		}
		return 1
	}
	return 0
}
