package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"rewardledger/config"
	"rewardledger/native/rewards"
	"rewardledger/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries what every subcommand needs.
type cli struct {
	log    *slog.Logger
	opts   []rewards.Option
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("reward-cli", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.SetInterspersed(false)
	verbose := global.Bool("verbose", false, "enable verbose (debug) logging")
	cfgPath := global.String("config", "rewards.toml", "ledger configuration supplying the cost model and ceiling")
	global.Usage = func() { printUsage(stderr, global) }
	if err := global.Parse(args); err != nil {
		return err
	}

	c := &cli{log: logging.NewConsole(stderr, *verbose), stdin: stdin, stdout: stdout, stderr: stderr}
	// The ledger config is only read when asked for; Load would otherwise
	// create one as a side effect.
	if global.Changed("config") {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		c.opts = cfg.RuntimeOptions()
		c.log.Debug("loaded ledger config", slog.String("path", *cfgPath), slog.Uint64("limit", cfg.CostLimit))
	}

	rest := global.Args()
	if len(rest) == 0 {
		printUsage(stderr, global)
		return fmt.Errorf("missing command")
	}
	switch rest[0] {
	case "simulate":
		return c.simulate(ctx, rest[1:])
	case "bench":
		return c.bench(ctx, rest[1:])
	case "menu":
		return c.menu(ctx)
	case "keygen":
		return c.keygen(rest[1:])
	case "token":
		return c.token(rest[1:])
	case "help":
		printUsage(stdout, global)
		return nil
	default:
		printUsage(stderr, global)
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func printUsage(w io.Writer, global *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: reward-cli [global flags] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  simulate attack [--scenario NAME|all] [--json]   replay attacks against both engines")
	fmt.Fprintln(w, "  simulate distribute --count N [--json]           honest distribution to N recipients")
	fmt.Fprintln(w, "  bench [--sizes 10,50,100] [--parquet FILE]       cost comparison, JSON on stdout")
	fmt.Fprintln(w, "  menu                                             interactive single-key menu")
	fmt.Fprintln(w, "  keygen [--out FILE]                              generate an identity key")
	fmt.Fprintln(w, "  token --subject ADDR [--secret S] [--ttl 1h]     issue a rewardd bearer token")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Global flags:")
	fmt.Fprint(w, global.FlagUsages())
}
