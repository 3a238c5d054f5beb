package taskprof

import (
	"path/filepath"
	"strings"
	"time"
)

// ProfileBuilderFactory constructs the top-level ProfileBuilder for one
// task. Supplied by the caller so the core stays decoupled from any
// concrete profile format (spec.md §1: serialization format is out of
// scope).
type ProfileBuilderFactory interface {
	New(startTime time.Time, displayName string, pid int, interval time.Duration) ProfileBuilder
}

// ProfileAssembler consumes a Dead TaskSampler plus its (possibly empty)
// subprocess TaskSamplers and produces a populated ProfileBuilder.
//
// This is consumption, not borrowing: Assemble is only ever meant to be
// called once per TaskSampler, after NotifyDead, exactly as spec.md §4.5
// describes ("the input state is moved in and invalidated").
type ProfileAssembler struct {
	Builders ProfileBuilderFactory
}

// Assemble builds the profile for task and attaches subprocesses as nested
// profiles (each recursed with no further sub-subprocesses, matching
// spec.md §4.5 step 6).
func (a ProfileAssembler) Assemble(task *TaskSampler, subprocesses []*TaskSampler) ProfileBuilder {
	name := displayName(task)

	pb := a.Builders.New(task.startTime, name, task.pid, task.interval)

	for _, sampler := range task.liveThreads {
		pb.AddThread(sampler.IntoProfileThread())
	}
	for _, sampler := range task.deadThreads {
		pb.AddThread(sampler.IntoProfileThread())
	}

	if task.hasEnd {
		pb.SetEndTime(task.endTime.Sub(task.startTime))
	}

	for _, lib := range task.libs {
		if lib.BuildID == "" || lib.Arch == "" {
			continue
		}
		start, end := lib.AddressRange()
		pb.AddLib(filepath.Base(lib.Path), lib.Path, lib.BuildID, lib.Arch, start, end)
	}

	for _, sub := range subprocesses {
		pb.AddSubprocess(a.Assemble(sub, nil))
	}

	return pb
}

// Session pairs a TaskSampler with the ProfileAssembler that will consume
// it, giving callers (e.g. package server) a single Snapshot operation that
// ends the sampling session and returns the assembled profile.
type Session struct {
	Task      *TaskSampler
	Assembler ProfileAssembler
}

// Snapshot calls NotifyDead(now) on the underlying TaskSampler and returns
// the assembled profile. Destructive: the session cannot be sampled again
// afterwards.
func (s *Session) Snapshot(now time.Time) (ProfileBuilder, error) {
	s.Task.NotifyDead(now)
	return s.Assembler.Assemble(s.Task, nil), nil
}

func (s *Session) LiveThreadCount() int { return s.Task.LiveThreadCount() }
func (s *Session) DeadThreadCount() int { return s.Task.DeadThreadCount() }
func (s *Session) Pid() int             { return s.Task.Pid() }
func (s *Session) Alive() bool          { return s.Task.Alive() }

func displayName(task *TaskSampler) string {
	if len(task.commandLine) > 0 {
		return strings.Join(task.commandLine, " ")
	}
	if task.executableLib != nil {
		return filepath.Base(task.executableLib.Path)
	}
	return task.commandName
}
