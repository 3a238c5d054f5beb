// Command taskprofd attaches to a running process, samples its threads on
// an interval, and serves the result over a debug HTTP endpoint. It wires
// together the process adaptor and module tracker (internal/procadaptor),
// the default ThreadSampler (internal/nativesampler) and the pprof profile
// sink (profilebuild). It builds no taskprof.PdbFrameResolver and no
// StackWalker: samples carry no stack addresses and profile locations are
// not symbolicated. Configuration comes from
// internal/config, so every flag below doubles as a TASKPROF_* env var.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stealthrocket/taskprof"
	"github.com/stealthrocket/taskprof/internal/config"
	"github.com/stealthrocket/taskprof/internal/nativesampler"
	"github.com/stealthrocket/taskprof/internal/procadaptor"
	"github.com/stealthrocket/taskprof/profilebuild"
	"github.com/stealthrocket/taskprof/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "taskprofd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		return err
	}
	if cfg.PID == 0 {
		return fmt.Errorf("usage: taskprofd --pid <pid> (or TASKPROF_PID)")
	}

	log := logrus.WithField("pid", cfg.PID)
	if cfg.SymbolsPath != "" {
		// Debug-database file I/O is an external collaborator this module
		// never implements (spec.md §1); the configured path is only
		// logged, no DebugInfoRoot or PdbFrameResolver is built from it.
		log.WithField("symbols", cfg.SymbolsPath).Info("taskprofd: symbol resolution left to an externally supplied DebugInfoRoot")
	}

	adaptor, err := procadaptor.New()
	if err != nil {
		return fmt.Errorf("opening /proc: %w", err)
	}

	now := time.Now()
	sampler, err := newSampler(adaptor, cfg.PID, now, cfg.Interval, log)
	if err != nil {
		return fmt.Errorf("attaching to pid %d: %w", cfg.PID, err)
	}

	subSamplers, err := attachChildren(adaptor, cfg.PID, cfg.MaxSubprocs, now, cfg.Interval, log)
	if err != nil {
		log.WithError(err).Warn("taskprofd: failed to enumerate subprocesses")
	}

	assembler := taskprof.ProfileAssembler{Builders: profilebuild.Factory{}}
	session := &taskprof.Session{Task: sampler, Assembler: assembler}

	handler := &server.Handler{
		Task: session,
		WriteProfile: func(w http.ResponseWriter, pb taskprof.ProfileBuilder) error {
			return pb.(*profilebuild.Builder).Write(w)
		},
	}
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: handler}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("taskprofd: serving /debug/taskprof")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("taskprofd: http server stopped")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return finish(assembler, sampler, subSamplers, time.Now(), log)
		case now := <-ticker.C:
			if alive := sampleAll(sampler, subSamplers, now, log); !alive {
				return finish(assembler, sampler, subSamplers, now, log)
			}
		}
	}
}

func newSampler(adaptor *procadaptor.Adaptor, pid int, now time.Time, interval time.Duration, log *logrus.Entry) (*taskprof.TaskSampler, error) {
	tracker := adaptor.NewModuleTracker(pid)
	threads := nativesampler.Factory{Walker: nil}
	return taskprof.NewTaskSampler(pid, pid, "", interval, now, adaptor, tracker, threads, log)
}

// attachChildren discovers pid's current child processes and attaches a
// TaskSampler to each, up to maxSubprocs (0 disables subprocess following
// entirely). Per-child attach failures are logged and skipped rather than
// aborting the parent's sampling session.
func attachChildren(adaptor *procadaptor.Adaptor, pid, maxSubprocs int, now time.Time, interval time.Duration, log *logrus.Entry) ([]*taskprof.TaskSampler, error) {
	if maxSubprocs <= 0 {
		return nil, nil
	}

	children, err := adaptor.Children(pid)
	if err != nil {
		return nil, err
	}
	if len(children) > maxSubprocs {
		log.WithField("found", len(children)).WithField("max", maxSubprocs).Warn("taskprofd: more subprocesses than max-subprocesses, truncating")
		children = children[:maxSubprocs]
	}

	samplers := make([]*taskprof.TaskSampler, 0, len(children))
	for _, childPID := range children {
		childLog := log.WithField("child_pid", childPID)
		sampler, err := newSampler(adaptor, childPID, now, interval, childLog)
		if err != nil {
			childLog.WithError(err).Warn("taskprofd: failed to attach to subprocess")
			continue
		}
		samplers = append(samplers, sampler)
	}
	return samplers, nil
}

// sampleAll ticks the parent and every subprocess sampler. Returns false
// once the parent's Sample reports alive=false (the parent is gone, or its
// thread enumeration failed with an error); a dead subprocess is just dropped from
// future ticks, it does not end the session.
func sampleAll(sampler *taskprof.TaskSampler, subSamplers []*taskprof.TaskSampler, now time.Time, log *logrus.Entry) bool {
	alive, err := sampler.Sample(now)
	if err != nil {
		log.WithError(err).Warn("taskprofd: sampling error")
	}
	if !alive {
		return false
	}

	for _, sub := range subSamplers {
		if !sub.Alive() {
			continue
		}
		if subAlive, err := sub.Sample(now); err != nil {
			log.WithError(err).Warn("taskprofd: subprocess sampling error")
		} else if !subAlive {
			sub.NotifyDead(now)
		}
	}
	return true
}

func finish(assembler taskprof.ProfileAssembler, sampler *taskprof.TaskSampler, subSamplers []*taskprof.TaskSampler, now time.Time, log *logrus.Entry) error {
	sampler.NotifyDead(now)
	for _, sub := range subSamplers {
		if sub.Alive() {
			sub.NotifyDead(now)
		}
	}

	pb := assembler.Assemble(sampler, subSamplers)
	builder, ok := pb.(*profilebuild.Builder)
	if !ok {
		return fmt.Errorf("unexpected ProfileBuilder implementation %T", pb)
	}
	if err := builder.Write(os.Stdout); err != nil {
		return fmt.Errorf("writing profile: %w", err)
	}
	log.Info("taskprofd: wrote final profile")
	return nil
}
