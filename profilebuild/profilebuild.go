// Package profilebuild implements taskprof.ProfileBuilder against
// github.com/google/pprof's profile format, the wire format the teacher
// repo (dispatchrun/wzprof) already depended on for its own profiles.
//
// The core module (package taskprof) only ever depends on the
// ProfileBuilder interface; this package is the default, swappable
// implementation of it.
package profilebuild

import (
	"fmt"
	"io"
	"time"

	"github.com/google/pprof/profile"

	"github.com/stealthrocket/taskprof"
)

// Symbolizer resolves an instruction address to its call chain,
// innermost-first. *taskprof.PdbFrameResolver satisfies this.
type Symbolizer interface {
	FindFrames(address taskprof.RVA) []taskprof.Frame
}

// Factory constructs Builders, implementing taskprof.ProfileBuilderFactory.
type Factory struct {
	Symbolizer Symbolizer
}

// New implements taskprof.ProfileBuilderFactory.
func (f Factory) New(startTime time.Time, displayName string, pid int, interval time.Duration) taskprof.ProfileBuilder {
	return &Builder{
		symbolizer: f.Symbolizer,
		pid:        pid,
		prof: &profile.Profile{
			SampleType: []*profile.ValueType{{Type: "samples", Unit: "count"}},
			PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
			Period:     int64(interval),
			TimeNanos:  startTime.UnixNano(),
			Comments:   []string{fmt.Sprintf("pid=%d name=%s", pid, displayName)},
		},
		funcsByStableName: make(map[string]*profile.Function),
		locsByAddr:        make(map[taskprof.RVA]*profile.Location),
	}
}

// Builder accumulates one task's threads, modules, and timing into a
// *profile.Profile.
type Builder struct {
	symbolizer Symbolizer
	prof       *profile.Profile
	pid        int

	funcsByStableName map[string]*profile.Function
	locsByAddr        map[taskprof.RVA]*profile.Location
	mappings          []*profile.Mapping
}

// AddThread appends one thread's samples as pprof Samples.
func (b *Builder) AddThread(pt taskprof.ProfileThread) {
	thread, ok := pt.(*taskprof.ThreadProfile)
	if !ok || thread == nil {
		return
	}
	for _, s := range thread.Samples {
		locs := make([]*profile.Location, 0, len(s.Addresses))
		for _, addr := range s.Addresses {
			locs = append(locs, b.locationFor(addr))
		}
		b.prof.Sample = append(b.prof.Sample, &profile.Sample{
			Value:    []int64{1},
			Location: locs,
		})
	}
}

// SetEndTime records the task's duration in the profile's duration field.
func (b *Builder) SetEndTime(d time.Duration) {
	b.prof.DurationNanos = d.Nanoseconds()
}

// AddLib appends a pprof Mapping for a fully-identified module.
func (b *Builder) AddLib(name, path, buildID, arch string, start, end uint64) {
	m := &profile.Mapping{
		ID:      uint64(len(b.mappings)) + 1,
		Start:   start,
		Limit:   end,
		File:    path,
		BuildID: buildID,
	}
	b.mappings = append(b.mappings, m)
	b.prof.Mapping = append(b.prof.Mapping, m)
}

// AddSubprocess records a child profile's summary (its pid and sample
// count) as a comment; pprof has no native nested-profile concept. The
// child's samples, locations and mappings are not copied into this profile.
func (b *Builder) AddSubprocess(child taskprof.ProfileBuilder) {
	sub, ok := child.(*Builder)
	if !ok {
		return
	}
	b.prof.Comments = append(b.prof.Comments, fmt.Sprintf("subprocess pid=%d samples=%d", sub.pid, len(sub.prof.Sample)))
}

// Write serializes the accumulated profile in pprof's gzip'd protobuf wire
// format.
func (b *Builder) Write(w io.Writer) error {
	return b.prof.Write(w)
}

func (b *Builder) locationFor(addr taskprof.RVA) *profile.Location {
	if loc, ok := b.locsByAddr[addr]; ok {
		return loc
	}

	var frames []taskprof.Frame
	if b.symbolizer != nil {
		frames = b.symbolizer.FindFrames(addr)
	}
	if len(frames) == 0 {
		frames = []taskprof.Frame{{}}
	}

	lines := make([]profile.Line, 0, len(frames))
	for _, frame := range frames {
		name := "?"
		if frame.Function != nil {
			name = *frame.Function
		}
		file := ""
		var line uint32
		if frame.Location != nil {
			file = frame.Location.File
			line = frame.Location.Line
		}

		fn, ok := b.funcsByStableName[name]
		if !ok {
			fn = &profile.Function{
				ID:       uint64(len(b.funcsByStableName)) + 1,
				Name:     name,
				Filename: file,
			}
			b.funcsByStableName[name] = fn
			b.prof.Function = append(b.prof.Function, fn)
		}
		lines = append(lines, profile.Line{Function: fn, Line: int64(line)})
	}

	loc := &profile.Location{
		ID:      uint64(len(b.locsByAddr)) + 1,
		Address: uint64(addr),
		Line:    lines,
	}
	b.prof.Location = append(b.prof.Location, loc)
	b.locsByAddr[addr] = loc
	return loc
}
