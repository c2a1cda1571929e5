// x1-vesting runs the token vesting ledger locally.
//
// The ledger state lives in a BadgerDB accounts store under the data
// directory; every executed transaction is recorded in a BoltDB journal.
//
// Usage:
//
//	x1-vesting [global flags] <command> [command flags]
//
// Commands:
//
//	genesis          write the rent sysvar and fund accounts
//	airdrop          credit lamports to an account
//	init             create the configuration account
//	create-schedule  create a vesting schedule for a beneficiary
//	show-config      print the configuration record
//	show-schedule    print a beneficiary's schedule and unlocked amount
//	history          list journal entries
//	snapshot         write a compressed accounts snapshot
//	restore          load a snapshot into an empty accounts store
//	hash             print the accounts merkle root
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/x1-vesting/pkg/config"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Global flags
var (
	configPath  = flag.String("config", "x1-vesting.toml", "Path to the TOML configuration file")
	dataDir     = flag.String("data-dir", "", "Data directory (overrides config)")
	logLevel    = flag.String("log-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	programID   = flag.String("program-id", "", "Vesting program address (overrides config)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, cfg *config.Config, args []string) error
}

var commands = []command{
	{"genesis", "[-fund pubkey=lamports ...]", runGenesis},
	{"airdrop", "<pubkey> <lamports>", runAirdrop},
	{"init", "-payer <pubkey> -admin <pubkey> -mint <pubkey>", runInit},
	{"create-schedule", "-admin <pubkey> -beneficiary <pubkey> -amount <n> -start <unix> -cliff <secs> -duration <secs>", runCreateSchedule},
	{"show-config", "", runShowConfig},
	{"show-schedule", "<beneficiary> [-now <unix>]", runShowSchedule},
	{"history", "[-account <pubkey>] [-limit <n>]", runHistory},
	{"snapshot", "[-out <path>]", runSnapshot},
	{"restore", "[-in <path>]", runRestore},
	{"hash", "", runHash},
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <command> [command flags]\n\nCommands:\n", os.Args[0])
	for _, c := range commands {
		fmt.Fprintf(flag.CommandLine.Output(), "  %-16s %s\n", c.name, c.usage)
	}
	fmt.Fprintln(flag.CommandLine.Output(), "\nFlags:")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("x1-vesting %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logrus.SetLevel(cfg.Level())
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	name := flag.Arg(0)
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddress != "" {
		serveMetrics(cfg.MetricsAddress)
	}

	if err := cmd.run(ctx, cfg, flag.Args()[1:]); err != nil {
		var usageErr usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(os.Stderr, "%v\n\nUsage: %s %s %s\n", err, os.Args[0], cmd.name, cmd.usage)
			os.Exit(2)
		}
		logrus.WithField("command", cmd.name).WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *programID != "" {
		cfg.ProgramID = *programID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))

	go func() {
		logrus.WithField("addr", addr).Info("serving metrics")
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Warn("metrics server stopped")
		}
	}()
}

type usageError struct {
	msg string
}

func (e usageError) Error() string {
	return e.msg
}

func usagef(format string, args ...interface{}) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}
