package taskprof

import "testing"

// identityAddressMap treats section offsets as already being RVAs: enough
// for tests that only exercise one (implicit) section.
type identityAddressMap struct{}

func (identityAddressMap) ToRVA(off SectionOffset) (RVA, bool) {
	return RVA(off.Offset), true
}

type fakeFileTable map[uint32]string

func (t fakeFileTable) FileName(idx uint32) (string, bool) {
	name, ok := t[idx]
	return name, ok
}

type fakeLineProgram struct {
	lines map[uint32][]LineRecord // keyed by procedure start offset
	files fakeFileTable
}

func (p fakeLineProgram) LinesAtOffset(off SectionOffset) LineRecordSource {
	return NewLineRecordSource(p.lines[off.Offset])
}

func (p fakeLineProgram) Files() FileTable { return p.files }

type fakeSymbolStream struct {
	symbols []Symbol
	pos     int
}

func (s *fakeSymbolStream) Next() (Symbol, bool, error) {
	if s.pos >= len(s.symbols) {
		return Symbol{}, false, nil
	}
	sym := s.symbols[s.pos]
	s.pos++
	return sym, true, nil
}

type fakeModuleInfo struct {
	symbols     []Symbol
	lineProgram fakeLineProgram
	inlinees    map[InlineeID]Inlinee
}

func (m fakeModuleInfo) Symbols() (SymbolStream, error) {
	return &fakeSymbolStream{symbols: m.symbols}, nil
}

func (m fakeModuleInfo) SymbolsFrom(index SymbolIndex) (SymbolStream, error) {
	for i, sym := range m.symbols {
		if sym.Index == index {
			return &fakeSymbolStream{symbols: m.symbols[i:]}, nil
		}
	}
	return &fakeSymbolStream{}, nil
}

func (m fakeModuleInfo) LineProgram() (LineProgram, error) { return m.lineProgram, nil }
func (m fakeModuleInfo) Inlinees() (map[InlineeID]Inlinee, error) { return m.inlinees, nil }

type fakeDebugInfoRoot struct {
	modules []ModuleInfo
}

func (r fakeDebugInfoRoot) Modules() ([]ModuleInfo, error) { return r.modules, nil }

// passthroughTypeFormatter echoes raw names, matching how spec.md's S1/S2
// scenarios name frames directly after the procedure/inlinee.
type passthroughTypeFormatter struct {
	inlineeNames map[InlineeID]string
}

func (passthroughTypeFormatter) WriteFunction(out *string, rawName string, typeIndex uint32) error {
	*out = rawName
	return nil
}

func (f passthroughTypeFormatter) WriteID(out *string, id InlineeID) error {
	*out = f.inlineeNames[id]
	return nil
}

// fooModule builds the S1/S2/S3 fixture: procedure "foo" at [0x1000,0x1050),
// one line record at its start, and (for S2) an inline site "bar" (id 7)
// covering [0x1010, 0x1020).
func fooModule(withInline bool) ModuleInfo {
	symbols := []Symbol{
		{Index: 0, Kind: SymbolProcedure, Procedure: ProcedureSymbol{
			Name:   "foo",
			Offset: SectionOffset{Offset: 0x1000},
			Length: 0x50,
		}},
	}
	inlinees := map[InlineeID]Inlinee{}
	if withInline {
		symbols = append(symbols, Symbol{
			Index:      1,
			Kind:       SymbolInlineSite,
			InlineSite: InlineSite{InlineeID: 7},
		})
		inlinees[7] = Inlinee{ID: 7, Lines: []LineRecord{
			{Offset: 0x10, Length: u32(0x10), FileIndex: 2, LineStart: 42, ColumnStart: u32(3)},
		}}
	}

	return fakeModuleInfo{
		symbols: symbols,
		lineProgram: fakeLineProgram{
			lines: map[uint32][]LineRecord{
				0x1000: {{Offset: 0x1000, FileIndex: 1, LineStart: 10}},
			},
			files: fakeFileTable{1: "a.c", 2: "b.c"},
		},
		inlinees: inlinees,
	}
}

func newTestResolver(module ModuleInfo) *PdbFrameResolver {
	return NewPdbFrameResolver(
		identityAddressMap{},
		fakeDebugInfoRoot{modules: []ModuleInfo{module}},
		passthroughTypeFormatter{inlineeNames: map[InlineeID]string{7: "bar"}},
		0,
	)
}

func TestFindFramesS1NoInline(t *testing.T) {
	r := newTestResolver(fooModule(false))
	frames := r.FindFrames(0x1020)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1: %+v", len(frames), frames)
	}
	if *frames[0].Function != "foo" {
		t.Fatalf("function = %q", *frames[0].Function)
	}
	if frames[0].Location.File != "a.c" || frames[0].Location.Line != 10 {
		t.Fatalf("location = %+v", frames[0].Location)
	}
}

func TestFindFramesS2WithInline(t *testing.T) {
	r := newTestResolver(fooModule(true))
	frames := r.FindFrames(0x1018)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2: %+v", len(frames), frames)
	}

	// Innermost-first: bar, then foo.
	if *frames[0].Function != "bar" || frames[0].Location.File != "b.c" || frames[0].Location.Line != 42 || *frames[0].Location.Column != 3 {
		t.Fatalf("inner frame = %+v", frames[0])
	}
	if *frames[1].Function != "foo" || frames[1].Location.File != "a.c" || frames[1].Location.Line != 10 {
		t.Fatalf("outer frame = %+v", frames[1])
	}
}

func TestFindFramesS3NoMatch(t *testing.T) {
	r := newTestResolver(fooModule(true))
	frames := r.FindFrames(0x0FFF)
	if len(frames) != 0 {
		t.Fatalf("got %d frames, want 0: %+v", len(frames), frames)
	}
}

func TestFindFramesBoundaryAtStart(t *testing.T) {
	r := newTestResolver(fooModule(false))
	frames := r.FindFrames(0x1000)
	if len(frames) != 1 {
		t.Fatalf("address at start_rva should be inside the procedure, got %d frames", len(frames))
	}
}

func TestFindFramesBoundaryAtEnd(t *testing.T) {
	r := newTestResolver(fooModule(false))
	frames := r.FindFrames(0x1050)
	if len(frames) != 0 {
		t.Fatalf("address at start_rva+length should be outside the procedure, got %d frames", len(frames))
	}
}

func TestFindFramesZeroModuleProcess(t *testing.T) {
	r := NewPdbFrameResolver(identityAddressMap{}, fakeDebugInfoRoot{}, passthroughTypeFormatter{}, 0)
	frames := r.FindFrames(0x1000)
	if len(frames) != 0 {
		t.Fatalf("got %d frames for a zero-module process, want 0", len(frames))
	}
}

func TestFindFramesIsPure(t *testing.T) {
	r := newTestResolver(fooModule(true))
	r.cache = nil // both calls run the full, uncached search
	first := r.FindFrames(0x1018)
	second := r.FindFrames(0x1018)
	if len(first) != len(second) {
		t.Fatalf("find_frames is not stable across repeated calls: %+v vs %+v", first, second)
	}
}

func TestFindFramesCacheHit(t *testing.T) {
	r := NewPdbFrameResolver(identityAddressMap{}, fakeDebugInfoRoot{modules: []ModuleInfo{fooModule(false)}}, passthroughTypeFormatter{}, 8)
	first := r.FindFrames(0x1020)
	// Mutate the underlying module list; a cache hit must still return the
	// memoized result rather than re-querying DebugInfo.
	r.DebugInfo = fakeDebugInfoRoot{}
	second := r.FindFrames(0x1020)
	if len(second) != len(first) {
		t.Fatalf("cache was not consulted: first=%+v second=%+v", first, second)
	}
}
