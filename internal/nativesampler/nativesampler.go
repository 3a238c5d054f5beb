// Package nativesampler implements taskprof.ThreadSamplerFactory against
// Linux's ptrace(2), in the suspend/resume-per-sample cadence spec.md §5
// describes. Actual stack unwinding is delegated to an injected StackWalker
// (golang.org/x/sys/unix gives us attach/regs, not unwinding — the platform
// unwinding library itself stays out of scope, spec.md §1).
package nativesampler

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/stealthrocket/taskprof"
)

// StackWalker turns a thread's captured registers into the sequence of RVAs
// (one per frame) PdbFrameResolver can symbolicate, innermost-first.
type StackWalker interface {
	Walk(regs *unix.PtraceRegs) ([]taskprof.RVA, error)
}

// Factory constructs ptrace-backed ThreadSamplers.
type Factory struct {
	Walker StackWalker
}

// New implements taskprof.ThreadSamplerFactory. Returns ok=true for any int
// handle (a TID, which can at least be attempted) and ok=false for a handle
// of any other type.
func (f Factory) New(_ taskprof.TaskHandle, _ int, _ time.Time, handle taskprof.ThreadHandle, now time.Time, isMain bool) (taskprof.ThreadSampler, bool, error) {
	tid, ok := handle.(int)
	if !ok {
		return nil, false, nil
	}
	return &threadSampler{tid: tid, isMain: isMain, walker: f.Walker, startTime: now}, true, nil
}

type threadSampler struct {
	tid       int
	isMain    bool
	walker    StackWalker
	startTime time.Time
	endTime   time.Time
	dead      bool
	samples   []taskprof.StackSample
}

// Sample attaches, waits for the thread to stop, reads its registers, walks
// the stack, then detaches. Returns alive=false (no error) once the thread
// has exited (ESRCH on attach or on register read).
func (s *threadSampler) Sample(now time.Time) (bool, error) {
	if err := unix.PtraceAttach(s.tid); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return false, nil
		}
		return false, &taskprof.PlatformSyscallError{Op: "ptrace_attach", Err: err}
	}
	defer unix.PtraceDetach(s.tid)

	var status unix.WaitStatus
	if _, err := unix.Wait4(s.tid, &status, 0, nil); err != nil && !errors.Is(err, unix.ESRCH) {
		return false, &taskprof.PlatformSyscallError{Op: "wait4", Err: err}
	}

	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(s.tid, &regs); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return false, nil
		}
		return false, &taskprof.PlatformSyscallError{Op: "ptrace_getregs", Err: err}
	}

	var addrs []taskprof.RVA
	if s.walker != nil {
		if a, err := s.walker.Walk(&regs); err == nil {
			addrs = a
		}
	}

	s.samples = append(s.samples, taskprof.StackSample{Time: now, Addresses: addrs})
	return true, nil
}

// NotifyDead records the thread's death time.
func (s *threadSampler) NotifyDead(deathTime time.Time) {
	s.dead = true
	s.endTime = deathTime
}

// IntoProfileThread returns the accumulated samples as a *taskprof.ThreadProfile.
func (s *threadSampler) IntoProfileThread() taskprof.ProfileThread {
	return &taskprof.ThreadProfile{
		Handle:    s.tid,
		IsMain:    s.isMain,
		Samples:   s.samples,
		StartTime: s.startTime,
		EndTime:   s.endTime,
		Dead:      s.dead,
	}
}
