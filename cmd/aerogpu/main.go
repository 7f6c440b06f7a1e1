// Command aerogpu replays and inspects guest GPU command streams captured
// from a guest RAM image.
//
// Usage:
//
//	aerogpu -config traces.toml replay [-json] [trace...]
//	aerogpu -config traces.toml inspect <trace>
//	aerogpu -config traces.toml dump -trace <name> -handle <h> -o out.bmp
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/gogpu/aerogpu"
	"github.com/gogpu/aerogpu/backend"

	_ "github.com/gogpu/aerogpu/backend/native"
	_ "github.com/gogpu/aerogpu/backend/software"
)

var (
	configPath    = flag.String("config", "aerogpu.toml", "path of the TOML or YAML trace configuration.")
	backendName   = flag.String("backend", "", "backend to run on; overrides the config file. One of the registered backends.")
	mode          = flag.String("mode", "", "writeback mode, blocking or async; overrides the config file.")
	logLevel      = flag.String("log-level", "", "log level (debug, info, warn, error); overrides the config file.")
	maxStreamSize = flag.Uint("max-stream-size", 0, "command stream cap in bytes; overrides the config file.")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(new(Replay), "")
	subcommands.Register(new(Inspect), "")
	subcommands.Register(new(Dump), "")
	subcommands.Register(new(Backends), "")
	flag.Parse()

	conf, err := loadConfig(*configPath)
	if err != nil && !isHelp(flag.Arg(0)) {
		fatalf("loading config: %v", err)
	}
	if conf == nil {
		conf = &config{}
	}
	applyFlags(conf)

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if conf.LogLevel != "" {
		lvl, err := logrus.ParseLevel(conf.LogLevel)
		if err != nil {
			fatalf("log level: %v", err)
		}
		logger.SetLevel(lvl)
	}
	aerogpu.SetLogger(slog.New(newLogrusHandler(logger)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()
	status := subcommands.Execute(ctx, conf, logger)
	stop()
	os.Exit(int(status))
}

// applyFlags copies explicitly set global flags over the file values.
func applyFlags(c *config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			c.Backend = *backendName
		case "mode":
			c.Mode = *mode
		case "log-level":
			c.LogLevel = *logLevel
		case "max-stream-size":
			c.MaxStreamSize = uint32(min(*maxStreamSize, aerogpu.MaxStreamSize))
		}
	})
	if _, err := parseMode(c.Mode); err != nil {
		fatalf("%v", err)
	}
}

func isHelp(cmd string) bool {
	switch cmd {
	case "", "help", "flags", "commands", "backends":
		return true
	}
	return false
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "aerogpu: "+format+"\n", args...)
	os.Exit(int(subcommands.ExitFailure))
}

// Backends implements subcommands.Command for the "backends" command.
type Backends struct{}

// Name implements subcommands.Command.Name.
func (*Backends) Name() string { return "backends" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Backends) Synopsis() string { return "list the registered backends" }

// Usage implements subcommands.Command.Usage.
func (*Backends) Usage() string { return "backends\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*Backends) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Backends) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	for _, name := range backend.Available() {
		fmt.Println(name)
	}
	return subcommands.ExitSuccess
}
