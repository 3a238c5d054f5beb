//  Copyright 2023 Stealth Rocket, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package taskprof

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// taskState is TaskSampler's lifecycle: Active accepts sample() calls,
// Dead is terminal (further sample() calls are undefined, spec.md §4.4).
type taskState int

const (
	taskActive taskState = iota
	taskDead
)

// TaskSampler orchestrates periodic sampling of all live threads of one
// attached process, and tracks thread and module lifecycles across ticks.
//
// TaskSampler is not reentrant: concurrent Sample calls on the same
// instance are forbidden (spec.md §5).
type TaskSampler struct {
	task     TaskHandle
	pid      int
	interval time.Duration

	startTime time.Time
	endTime   time.Time
	hasEnd    bool

	liveThreads map[ThreadHandle]ThreadSampler
	deadThreads []ThreadSampler

	moduleTracker ModuleTracker
	libs          []Module
	executableLib *Module

	commandName string
	commandLine []string

	process ProcessAdaptor
	threads ThreadSamplerFactory

	state taskState
	log   *logrus.Entry
}

// NewTaskSampler attaches to task/pid and takes an initial thread census.
// The first enumerated thread is flagged as the main thread: a documented
// heuristic (spec.md §4.4), not a guarantee.
func NewTaskSampler(
	task TaskHandle,
	pid int,
	commandName string,
	interval time.Duration,
	now time.Time,
	process ProcessAdaptor,
	moduleTracker ModuleTracker,
	threads ThreadSamplerFactory,
	log *logrus.Entry,
) (*TaskSampler, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	commandLine, err := process.CommandLine(pid)
	if err == nil && len(commandLine) > 0 {
		commandLine = append([]string(nil), commandLine...)
		commandLine[0] = filepath.Base(commandLine[0])
	} else {
		commandLine = nil
	}

	handles, err := process.CurrentThreadHandles(task)
	if err != nil {
		return nil, translateEnumerationError(err)
	}

	t := &TaskSampler{
		task:          task,
		pid:           pid,
		interval:      interval,
		startTime:     now,
		liveThreads:   make(map[ThreadHandle]ThreadSampler, len(handles)),
		moduleTracker: moduleTracker,
		commandName:   commandName,
		commandLine:   commandLine,
		process:       process,
		threads:       threads,
		log:           log,
	}

	for i, handle := range handles {
		isMain := i == 0
		sampler, ok, err := threads.New(task, pid, now, handle, now, isMain)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		t.liveThreads[handle] = sampler
	}

	return t, nil
}

// Sample performs one tick: applies module deltas, samples every known
// thread, and moves threads that disappeared since the last tick into
// dead_threads. Returns (false, nil) once the process is confirmed gone; a
// thread-enumeration error that does not mean the process is gone is
// returned as (false, err).
func (t *TaskSampler) Sample(now time.Time) (alive bool, err error) {
	t.applyModuleDeltas()

	handles, err := t.process.CurrentThreadHandles(t.task)
	if err != nil {
		if terr := translateEnumerationError(err); isProcessGone(terr) {
			return false, nil
		}
		return false, err
	}

	nowLive := make(map[ThreadHandle]struct{}, len(handles))
	var sampleErrs error

	for _, handle := range handles {
		sampler, known := t.liveThreads[handle]
		if !known {
			var ok bool
			sampler, ok, err = t.threads.New(t.task, t.pid, t.startTime, handle, now, false)
			if err != nil {
				if terr := translateEnumerationError(err); isProcessGone(terr) {
					return false, nil
				}
				sampleErrs = multierr.Append(sampleErrs, err)
				continue
			}
			if !ok {
				continue
			}
			t.liveThreads[handle] = sampler
		}

		stillAlive, err := sampler.Sample(now)
		if err != nil {
			if isProcessGone(err) {
				return false, nil
			}
			sampleErrs = multierr.Append(sampleErrs, err)
			// A failed sample is not an exit: the thread is still enumerated.
			nowLive[handle] = struct{}{}
			continue
		}
		if stillAlive {
			nowLive[handle] = struct{}{}
		}
	}

	for handle, sampler := range t.liveThreads {
		if _, stillLive := nowLive[handle]; stillLive {
			continue
		}
		sampler.NotifyDead(now)
		t.deadThreads = append(t.deadThreads, sampler)
		delete(t.liveThreads, handle)
	}

	return true, sampleErrs
}

func (t *TaskSampler) applyModuleDeltas() {
	changes, err := t.moduleTracker.CheckForChanges()
	if err != nil {
		t.log.WithError(err).Debug("taskprof: module delta fetch failed, continuing with stale module info")
		return
	}
	for _, change := range changes {
		switch {
		case change.Added != nil:
			lib := *change.Added
			if t.executableLib == nil && lib.IsExecutable {
				t.executableLib = &lib
			}
			t.libs = append(t.libs, lib)
		case change.Removed != nil:
			// Deliberately not reclaimed: if the address range is reused
			// within this session, symbolication becomes ambiguous. This
			// is an accepted, documented limitation (spec.md §4.4).
		}
	}
}

// NotifyDead drains all live samplers into dead_threads, notifies each of
// death at endTime, records endTime, and releases the module tracker's
// resources. Transitions the sampler to the Dead state.
func (t *TaskSampler) NotifyDead(endTime time.Time) {
	for handle, sampler := range t.liveThreads {
		sampler.NotifyDead(endTime)
		t.deadThreads = append(t.deadThreads, sampler)
		delete(t.liveThreads, handle)
	}
	t.endTime = endTime
	t.hasEnd = true
	t.moduleTracker.UnmapMemory()
	t.state = taskDead
}

// LiveThreadCount returns the number of threads currently believed alive.
func (t *TaskSampler) LiveThreadCount() int { return len(t.liveThreads) }

// DeadThreadCount returns the number of threads observed to have exited.
func (t *TaskSampler) DeadThreadCount() int { return len(t.deadThreads) }

// Pid returns the attached process id.
func (t *TaskSampler) Pid() int { return t.pid }

// Alive reports whether NotifyDead has not yet been called.
func (t *TaskSampler) Alive() bool { return t.state == taskActive }

func translateEnumerationError(err error) error {
	if err == nil {
		return nil
	}
	var platformErr *PlatformSyscallError
	if errors.As(err, &platformErr) {
		return err
	}
	if isProcessGone(err) {
		return ErrProcessTerminated
	}
	return err
}
