// Package config layers github.com/peterbourgon/ff/v3 (used by
// brancz-otel-profiling-agent for its own agent configuration) on top of a
// stdlib flag.FlagSet, so a taskprof driver can be configured by flags or by
// environment variables without duplicating the parsing logic.
package config

import (
	"flag"
	"time"

	"github.com/peterbourgon/ff/v3"
)

// Config is the subset of driver configuration taskprofd needs: which
// process to attach to, how often to sample it, and where to serve the
// debug HTTP endpoint.
type Config struct {
	PID         int
	Interval    time.Duration
	HTTPAddr    string
	SymbolsPath string
	MaxSubprocs int
}

// Parse reads args (and, via ff, the TASKPROF_* environment variables)
// into a Config.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("taskprofd", flag.ContinueOnError)

	cfg := &Config{}
	fs.IntVar(&cfg.PID, "pid", 0, "pid of the process to attach to")
	fs.DurationVar(&cfg.Interval, "interval", 10*time.Millisecond, "sampling interval")
	fs.StringVar(&cfg.HTTPAddr, "http", ":8081", "debug HTTP server address")
	fs.StringVar(&cfg.SymbolsPath, "symbols", "", "path to the debug database for the attached process")
	fs.IntVar(&cfg.MaxSubprocs, "max-subprocesses", 0, "maximum nested subprocess profiles to follow (0 = none)")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("TASKPROF")); err != nil {
		return nil, err
	}
	return cfg, nil
}
