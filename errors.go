package taskprof

import "errors"

// ErrProcessTerminated means the target process is gone. It is recoverable
// at the driver level: the driver should call TaskSampler.NotifyDead and
// hand the task off to ProfileAssembler.
var ErrProcessTerminated = errors.New("taskprof: process terminated")

// ErrInvalidArgument is returned by a ProcessAdaptor when the platform
// reports the process handle is no longer valid. TaskSampler translates
// this to ErrProcessTerminated before it ever reaches a caller.
var ErrInvalidArgument = errors.New("taskprof: invalid argument")

// ErrDebugDataMalformed is returned by symbolication collaborators when
// debug data cannot be parsed. It never aborts profiling and PdbFrameResolver
// never returns it: a failure to list modules yields an empty frame list, a
// failure reading one module's symbols skips that module, and a failure
// reading a module's line program or inlinees yields the procedure frame
// without a location or inline frames.
var ErrDebugDataMalformed = errors.New("taskprof: debug data malformed")

// PlatformSyscallError wraps a platform/kernel error that a ProcessAdaptor
// or ThreadSampler could not otherwise classify. It propagates as a
// sampling failure unless specifically translated by the caller.
type PlatformSyscallError struct {
	Op  string
	Err error
}

func (e *PlatformSyscallError) Error() string {
	return "taskprof: platform syscall failed (" + e.Op + "): " + e.Err.Error()
}

func (e *PlatformSyscallError) Unwrap() error { return e.Err }

// isProcessGone reports whether err indicates the target process is no
// longer addressable, the condition TaskSampler.sample translates into a
// `false` (not alive) return rather than propagating.
func isProcessGone(err error) bool {
	return errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrProcessTerminated)
}
