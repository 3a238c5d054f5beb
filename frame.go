package taskprof

// Frame is a resolved stack entry. Both fields are optional: a frame with
// neither a function name nor a location is legal (unknown), but a frame
// resolved from a procedure always has at least a function name, and a
// frame resolved from an inline site always has a location (see
// PdbFrameResolver.FindFrames).
type Frame struct {
	Function *string
	Location *Location
}

// Location is a source position: file name, line, and an optional column.
type Location struct {
	File   string
	Line   uint32
	Column *uint32
}

// RVA is a relative virtual address: an offset from a module's load base.
type RVA uint32

// Procedure is a non-inlined function as recorded in debug data.
//
// A procedure covers the half-open range [StartRVA, StartRVA+Length).
type Procedure struct {
	Name      string
	TypeIndex uint32
	StartRVA  RVA
	Length    uint32
}

// Range returns the procedure's half-open RVA range.
func (p Procedure) Range() (start, end RVA) {
	return p.StartRVA, p.StartRVA + RVA(p.Length)
}

func (p Procedure) contains(addr RVA) bool {
	start, end := p.Range()
	return addr >= start && addr < end
}

// InlineeID identifies per-function inlining metadata (an Inlinee) that an
// InlineSite refers back to.
type InlineeID uint32

// InlineSite is a child of a procedure: a call the compiler inlined. It
// holds only its InlineeID; its line records are those of the referenced
// Inlinee, rebased onto the parent procedure's start RVA.
type InlineSite struct {
	InlineeID InlineeID
}

// Inlinee is per-function inlining metadata keyed by InlineeID, providing
// the sized line records for every InlineSite that references it.
type Inlinee struct {
	ID    InlineeID
	Lines []LineRecord
}

// LineRecord is one entry of a line program: the mapping from a byte offset
// range to a source file/line/column.
//
// Two addressing modes exist:
//   - sized: Length is present, the record's range is [Offset, Offset+Length).
//   - unsized: Length is absent (nil), the record's range ends where the next
//     record begins, and the last record ends at the enclosing procedure's
//     end RVA.
type LineRecord struct {
	FileIndex   uint32
	LineStart   uint32
	ColumnStart *uint32
	Offset      RVA
	Length      *uint32
}

// Permissions is the read/write/execute bitmask of a mapped module, as
// recovered from the owning process's memory map.
type Permissions uint8

const (
	PermRead Permissions = 1 << iota
	PermWrite
	PermExecute
)

// Module is a loaded shared library or executable image.
//
// Invariant: among modules of one process at one time, address ranges do
// not overlap.
type Module struct {
	Path         string
	BuildID      string
	Arch         string
	Base         uint64
	VMSize       uint64
	IsExecutable bool
	Permissions  Permissions
}

// AddressRange returns the module's half-open load address range.
func (m Module) AddressRange() (start, end uint64) {
	return m.Base, m.Base + m.VMSize
}
