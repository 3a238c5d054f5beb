package taskprof

import "time"

// StackSample is one captured stack trace: the instruction addresses walked
// from innermost to outermost frame, each resolvable to a Frame chain via
// PdbFrameResolver.
type StackSample struct {
	Time      time.Time
	Addresses []RVA
}

// ThreadProfile is the concrete ProfileThread produced by the default
// ThreadSampler (package internal/nativesampler). It is exported so a
// ProfileBuilder implementation (e.g. package profilebuild) can type-assert
// on it without either package depending on the other's internals.
type ThreadProfile struct {
	Handle    ThreadHandle
	IsMain    bool
	Samples   []StackSample
	StartTime time.Time
	EndTime   time.Time
	Dead      bool
}
