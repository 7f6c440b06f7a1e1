package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/aerogpu"
)

// Replay implements subcommands.Command for the "replay" command.
type Replay struct {
	json     bool
	parallel int
}

// Name implements subcommands.Command.Name.
func (*Replay) Name() string { return "replay" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Replay) Synopsis() string { return "run the submissions of one or more traces" }

// Usage implements subcommands.Command.Usage.
func (*Replay) Usage() string {
	return `replay [flags] [trace...] - run traces from the config file, all of them by default.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Replay) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.json, "json", false, "print reports as JSON.")
	f.IntVar(&r.parallel, "parallel", 4, "number of traces replayed at once, each on its own executor.")
}

// traceResult is the outcome of one replayed trace.
type traceResult struct {
	name    string
	reports []aerogpu.Report
}

func (t traceResult) ok() bool {
	for _, r := range t.reports {
		if !r.OK() {
			return false
		}
	}
	return true
}

// Execute implements subcommands.Command.Execute.
func (r *Replay) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config)
	log := args[1].(*logrus.Logger)
	traces, err := conf.find(f.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	if len(traces) == 0 {
		fmt.Fprintln(os.Stderr, "no traces configured")
		return subcommands.ExitUsageError
	}

	results, err := replayAll(ctx, conf, log, traces, r.parallel)
	if err != nil {
		log.WithError(err).Error("replay failed")
		return subcommands.ExitFailure
	}

	status := subcommands.ExitSuccess
	for _, res := range results {
		if !res.ok() {
			status = subcommands.ExitFailure
		}
	}
	if r.json {
		os.Stdout.Write(resultsJSON(results))
		fmt.Println()
		return status
	}
	for _, res := range results {
		for i, rep := range res.reports {
			if err := rep.Err(); err != nil {
				fmt.Printf("%s[%d]: failed at packet %d: %v\n", res.name, i, rep.PacketsProcessed, err)
				continue
			}
			fmt.Printf("%s[%d]: ok, %d packets\n", res.name, i, rep.PacketsProcessed)
		}
	}
	return status
}

// replayAll runs traces concurrently, at most parallel at a time.
func replayAll(ctx context.Context, conf *config, log *logrus.Logger, traces []trace, parallel int) ([]traceResult, error) {
	results := make([]traceResult, len(traces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for i, tr := range traces {
		g.Go(func() error {
			s, err := openSession(conf, tr)
			if err != nil {
				return err
			}
			results[i] = traceResult{name: tr.Name, reports: s.replay(gctx, log, tr)}
			return s.Close()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func resultsJSON(results []traceResult) []byte {
	w := jwriter.NewWriter()
	arr := w.Array()
	for _, res := range results {
		obj := arr.Object()
		obj.Name("trace").String(res.name)
		obj.Name("ok").Bool(res.ok())
		subs := obj.Name("submissions").Array()
		for _, rep := range res.reports {
			o := subs.Object()
			rep.WriteFields(&o)
			o.End()
		}
		subs.End()
		obj.End()
	}
	arr.End()
	return w.Bytes()
}
