// Package procadaptor implements taskprof.ProcessAdaptor and the default
// taskprof.ModuleTracker against Linux's /proc filesystem, using
// github.com/prometheus/procfs the way brancz-otel-profiling-agent does for
// its own process discovery.
package procadaptor

import (
	"debug/elf"
	"fmt"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/procfs"
	"golang.org/x/exp/slices"

	"github.com/stealthrocket/taskprof"
)

// Adaptor implements taskprof.ProcessAdaptor.
type Adaptor struct {
	fs procfs.FS
}

// New opens the default procfs mount (/proc).
func New() (*Adaptor, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	return &Adaptor{fs: fs}, nil
}

// CurrentThreadHandles lists pid's thread ids. Concrete ThreadHandle values
// are plain ints (Linux TIDs).
func (a *Adaptor) CurrentThreadHandles(task taskprof.TaskHandle) ([]taskprof.ThreadHandle, error) {
	pid, ok := task.(int)
	if !ok {
		return nil, taskprof.ErrInvalidArgument
	}

	proc, err := a.fs.Proc(pid)
	if err != nil {
		return nil, taskprof.ErrInvalidArgument
	}

	threads, err := proc.Threads()
	if err != nil {
		return nil, taskprof.ErrInvalidArgument
	}

	tids := make([]int, 0, len(threads))
	for _, t := range threads {
		tids = append(tids, t.PID)
	}
	slices.Sort(tids)

	handles := make([]taskprof.ThreadHandle, len(tids))
	for i, tid := range tids {
		handles[i] = tid
	}
	return handles, nil
}

// CommandLine decodes argv for pid, returning (nil, nil) on any failure
// (spec.md §6: "errors map to treat as unknown").
func (a *Adaptor) CommandLine(pid int) ([]string, error) {
	proc, err := a.fs.Proc(pid)
	if err != nil {
		return nil, nil
	}
	cmdline, err := proc.CmdLine()
	if err != nil || len(cmdline) == 0 {
		return nil, nil
	}
	return cmdline, nil
}

// Children lists pid's immediate child processes, sorted ascending. Used by
// the driver to find the subprocess TaskSamplers ProfileAssembler nests
// under the parent profile (spec.md §4.5 step 6), capped by the caller at
// its configured max-subprocesses.
func (a *Adaptor) Children(pid int) ([]int, error) {
	procs, err := a.fs.AllProcs()
	if err != nil {
		return nil, err
	}

	var children []int
	for _, proc := range procs {
		stat, err := proc.Stat()
		if err != nil {
			continue
		}
		if stat.PPID == pid {
			children = append(children, proc.PID)
		}
	}
	slices.Sort(children)
	return children, nil
}

// ModuleTracker is the default taskprof.ModuleTracker, diffing
// /proc/[pid]/maps between ticks.
type ModuleTracker struct {
	fs   procfs.FS
	pid  int
	prev map[string]taskprof.Module
}

// NewModuleTracker constructs a ModuleTracker for pid sharing fs with the
// Adaptor that created it (they read the same /proc mount).
func (a *Adaptor) NewModuleTracker(pid int) *ModuleTracker {
	return &ModuleTracker{fs: a.fs, pid: pid}
}

// CheckForChanges diffs the current file-backed mappings of the task (one
// Module per path and start address, executable or not, with IsExecutable
// taken from the mapping's execute bit) against the previous call's
// snapshot. Removed ranges are never reclaimed: a later
// Added for a reused range is reported as a fresh module, accepting the
// ambiguity spec.md §4.4 documents.
func (t *ModuleTracker) CheckForChanges() ([]taskprof.Modification, error) {
	proc, err := t.fs.Proc(t.pid)
	if err != nil {
		return nil, err
	}
	maps, err := proc.ProcMaps()
	if err != nil {
		return nil, err
	}

	current := make(map[string]taskprof.Module, len(maps))
	for _, m := range maps {
		if m.Pathname == "" || strings.HasPrefix(m.Pathname, "[") {
			continue
		}
		key := fmt.Sprintf("%s@%x", m.Pathname, m.StartAddr)
		if _, seen := current[key]; seen {
			continue
		}
		current[key] = taskprof.Module{
			Path:         m.Pathname,
			Base:         uint64(m.StartAddr),
			VMSize:       uint64(m.EndAddr - m.StartAddr),
			IsExecutable: m.Perms != nil && m.Perms.Execute,
			Arch:         runtime.GOARCH,
			BuildID:      buildID(m.Pathname),
			Permissions:  permissionsOf(m.Perms),
		}
	}

	var changes []taskprof.Modification
	for key, mod := range current {
		if _, existed := t.prev[key]; !existed {
			mod := mod
			changes = append(changes, taskprof.Modification{Added: &mod})
		}
	}
	for key, mod := range t.prev {
		if _, still := current[key]; !still {
			mod := mod
			changes = append(changes, taskprof.Modification{Removed: &mod})
		}
	}

	// Map iteration order is random; sort by base address so two runs over
	// the same /proc/[pid]/maps snapshot report changes in the same order.
	slices.SortFunc(changes, func(a, b taskprof.Modification) bool {
		return changeBase(a) < changeBase(b)
	})

	t.prev = current
	return changes, nil
}

func changeBase(c taskprof.Modification) uint64 {
	if c.Added != nil {
		return c.Added.Base
	}
	return c.Removed.Base
}

// UnmapMemory releases the tracker's in-memory snapshot.
func (t *ModuleTracker) UnmapMemory() {
	t.prev = nil
}

func permissionsOf(p *procfs.ProcMapPermissions) taskprof.Permissions {
	if p == nil {
		return 0
	}
	var perms taskprof.Permissions
	if p.Read {
		perms |= taskprof.PermRead
	}
	if p.Write {
		perms |= taskprof.PermWrite
	}
	if p.Execute {
		perms |= taskprof.PermExecute
	}
	return perms
}

// buildID reads the ELF .note.gnu.build-id section and returns it rendered
// as a UUID-shaped string, matching the Module.BuildID the original's
// Mach-O UUID filled on macOS. Returns "" if the file can't be read or
// carries no build id, which ProfileAssembler treats as "skip this module"
// (spec.md §4.5 step 5).
func buildID(path string) string {
	f, err := elf.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	section := f.Section(".note.gnu.build-id")
	if section == nil {
		return ""
	}
	data, err := section.Data()
	if err != nil || len(data) < 16 {
		return ""
	}

	// ELF note header is name size, desc size, type (3 x uint32), followed
	// by the (padded) name and then the descriptor (the build id bytes).
	nameSize := hostEndian(data[0:4])
	descSize := hostEndian(data[4:8])
	descOffset := 12 + align4(nameSize)
	if descOffset+descSize > uint32(len(data)) {
		return ""
	}
	id := data[descOffset : descOffset+descSize]
	return uuid.NewSHA1(uuid.Nil, id).String()
}

func hostEndian(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func align4(n uint32) uint32 {
	return (n + 3) &^ 3
}
