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

import "time"

// TaskHandle is an opaque reference to the attached process. Concrete
// process adaptors define what it wraps (a PID, a ptrace attachment, a Mach
// task port on other platforms); TaskSampler never inspects it.
type TaskHandle interface{}

// ThreadHandle identifies one thread of the attached task. Must be usable as
// a map key (spec.md §3 "live_threads: mapping from thread handle to
// ThreadSampler, keys unique").
type ThreadHandle interface{}

// ThreadSampler is the external contract for capturing one stack sample per
// call and reporting thread liveness. Stack unwinding itself is out of
// scope for this module (spec.md §1); a ThreadSampler implementation owns
// that concern.
type ThreadSampler interface {
	// Sample captures one stack sample at now and returns whether the
	// thread is still alive.
	Sample(now time.Time) (alive bool, err error)
	// NotifyDead is called once the caller knows the thread has exited (or
	// the whole task has died), with the time of death.
	NotifyDead(deathTime time.Time)
	// IntoProfileThread converts the accumulated samples into a
	// ProfileThread ready for a ProfileBuilder.
	IntoProfileThread() ProfileThread
}

// ThreadSamplerFactory constructs a ThreadSampler for a newly observed
// thread. A nil return (ok=false) means "cannot profile this thread" and is
// not an error (spec.md §6).
type ThreadSamplerFactory interface {
	New(task TaskHandle, pid int, taskStart time.Time, handle ThreadHandle, now time.Time, isMain bool) (ThreadSampler, bool, error)
}

// ProfileThread is the sink-side representation of one thread's samples,
// opaque to TaskSampler/ProfileAssembler beyond being attachable to a
// ProfileBuilder.
type ProfileThread interface{}

// Modification is one change reported by a ModuleTracker since the last
// query.
type Modification struct {
	Added   *Module
	Removed *Module
}

// ModuleTracker reports additions/removals of loaded code modules. Errors
// coerce to an empty delta (spec.md §7): the session continues with stale
// module info rather than aborting.
type ModuleTracker interface {
	CheckForChanges() ([]Modification, error)
	// UnmapMemory releases any resources (e.g. a mapped view of the
	// target's loader structures) the tracker holds open.
	UnmapMemory()
}

// ProcessAdaptor is the platform glue TaskSampler depends on: enumerating
// live thread handles and decoding the command line.
type ProcessAdaptor interface {
	// CurrentThreadHandles lists the task's threads right now. An
	// InvalidArgument error means the process is gone; TaskSampler
	// translates that to ProcessTerminated.
	CurrentThreadHandles(task TaskHandle) ([]ThreadHandle, error)
	// CommandLine decodes argv for pid. Absent (nil, nil) on failure,
	// never an error the caller must handle specially.
	CommandLine(pid int) ([]string, error)
}

// ProfileBuilder is a write-only sink that accumulates an assembled profile.
// The profile serialization format itself is out of scope for this module
// (spec.md §1); this interface is all ProfileAssembler depends on.
type ProfileBuilder interface {
	AddThread(ProfileThread)
	SetEndTime(d time.Duration)
	AddLib(name, path, buildID, arch string, start, end uint64)
	AddSubprocess(child ProfileBuilder)
}
