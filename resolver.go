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
	lru "github.com/hashicorp/golang-lru"
)

// SectionOffset is a raw, section-relative offset as stored in debug data,
// before translation to an RVA. Procedures and inline sites are recorded
// against a SectionOffset; the AddressMap translates it.
type SectionOffset struct {
	Section uint16
	Offset  uint32
}

// AddressMap translates a debug database's internal section offsets to
// RVAs. A translation can fail (e.g. the section index is unknown); callers
// must treat that as "skip this symbol", never as an error.
type AddressMap interface {
	ToRVA(SectionOffset) (RVA, bool)
}

// SymbolKind discriminates the symbol stream. Any kind besides Procedure and
// InlineSite is ignored by PdbFrameResolver, not treated as an error
// (spec.md §9 "Polymorphism").
type SymbolKind int

const (
	SymbolOther SymbolKind = iota
	SymbolProcedure
	SymbolInlineSite
)

// ProcedureSymbol is the raw, pre-translation form of a Procedure record.
type ProcedureSymbol struct {
	Name      string
	TypeIndex uint32
	Offset    SectionOffset
	Length    uint32
}

// SymbolIndex identifies a position within a module's symbol stream, stable
// enough to resume iteration from (see ModuleInfo.SymbolsFrom).
type SymbolIndex uint32

// Symbol is one entry of a module's symbol stream.
type Symbol struct {
	Index      SymbolIndex
	Kind       SymbolKind
	Procedure  ProcedureSymbol
	InlineSite InlineSite
}

// SymbolStream is a fallible, forward-only sequence of symbols.
type SymbolStream interface {
	Next() (Symbol, bool, error)
}

// LineProgram is a module-scoped table of line records, keyed by a
// procedure's section offset, plus the file table needed to resolve a line
// record's file index to a name.
type LineProgram interface {
	// LinesAtOffset returns the sequence of unsized line records belonging
	// to the procedure starting at offset.
	LinesAtOffset(offset SectionOffset) LineRecordSource
	Files() FileTable
}

// ModuleInfo exposes one loaded module's debug data: its symbol stream, line
// program, and inlining metadata.
type ModuleInfo interface {
	Symbols() (SymbolStream, error)
	// SymbolsFrom resumes the symbol stream positioned at index itself
	// (inclusive of the symbol at index). Callers that resume from a
	// matched procedure's index must consume that one symbol themselves
	// before walking the inline sites that trail it — framesFromProcedure
	// does exactly this.
	SymbolsFrom(index SymbolIndex) (SymbolStream, error)
	LineProgram() (LineProgram, error)
	Inlinees() (map[InlineeID]Inlinee, error)
}

// DebugInfoRoot enumerates the modules a PdbFrameResolver can search, in the
// order that decides which module wins when ranges could in principle
// overlap (spec.md §4.3 "first-matching-module policy").
type DebugInfoRoot interface {
	Modules() ([]ModuleInfo, error)
}

// PdbFrameResolver resolves an instruction address to the full
// inline-expanded call chain (outer function plus every inlined frame),
// innermost-first.
type PdbFrameResolver struct {
	AddressMap    AddressMap
	DebugInfo     DebugInfoRoot
	TypeFormatter TypeFormatter

	cache *lru.Cache // RVA -> []Frame, see spec.md §8 "find_frames is pure"
}

// NewPdbFrameResolver constructs a resolver over the given debug-data
// catalogs. cacheSize bounds the number of distinct addresses whose frame
// lists are memoized; pass 0 to disable caching.
func NewPdbFrameResolver(addressMap AddressMap, debugInfo DebugInfoRoot, typeFormatter TypeFormatter, cacheSize int) *PdbFrameResolver {
	r := &PdbFrameResolver{
		AddressMap:    addressMap,
		DebugInfo:     debugInfo,
		TypeFormatter: typeFormatter,
	}
	if cacheSize > 0 {
		r.cache, _ = lru.New(cacheSize)
	}
	return r
}

// FindFrames resolves address to its call chain, innermost-first. Returns an
// empty slice (not an error) when no module contains a procedure whose RVA
// range covers address.
func (r *PdbFrameResolver) FindFrames(address RVA) []Frame {
	if r.cache != nil {
		if v, ok := r.cache.Get(address); ok {
			return v.([]Frame)
		}
	}

	frames := r.findFrames(address)

	if r.cache != nil {
		r.cache.Add(address, frames)
	}
	return frames
}

func (r *PdbFrameResolver) findFrames(address RVA) []Frame {
	modules, err := r.DebugInfo.Modules()
	if err != nil {
		return nil
	}

	for _, module := range modules {
		symbolIndex, proc, rvaStart, rvaEnd, ok := r.findProcedure(module, address)
		if !ok {
			continue
		}
		return r.framesFromProcedure(module, symbolIndex, proc, rvaStart, rvaEnd, address)
	}
	return nil
}

// findProcedure streams module's symbols and finds the first Procedure
// symbol whose RVA range contains address. A procedure whose offset fails to
// translate to an RVA is skipped, not treated as an error.
func (r *PdbFrameResolver) findProcedure(module ModuleInfo, address RVA) (SymbolIndex, ProcedureSymbol, RVA, RVA, bool) {
	symbols, err := module.Symbols()
	if err != nil {
		return 0, ProcedureSymbol{}, 0, 0, false
	}

	for {
		sym, ok, err := symbols.Next()
		if err != nil || !ok {
			return 0, ProcedureSymbol{}, 0, 0, false
		}
		if sym.Kind != SymbolProcedure {
			continue
		}
		start, ok := r.AddressMap.ToRVA(sym.Procedure.Offset)
		if !ok {
			continue
		}
		end := start + RVA(sym.Procedure.Length)
		if address >= start && address < end {
			return sym.Index, sym.Procedure, start, end, true
		}
	}
}

func (r *PdbFrameResolver) framesFromProcedure(
	module ModuleInfo,
	symbolIndex SymbolIndex,
	proc ProcedureSymbol,
	rvaStart RVA,
	rvaEnd RVA,
	address RVA,
) []Frame {
	lineProgram, err := module.LineProgram()
	if err != nil {
		lineProgram = nil
	}
	inlinees, err := module.Inlinees()
	if err != nil {
		inlinees = nil
	}

	name := formatFunction(r.TypeFormatter, proc.Name, proc.TypeIndex)
	outer := Frame{Function: &name}
	if lineProgram != nil {
		if rec, ok := FindByImplicitEnd(lineProgram.LinesAtOffset(proc.Offset), address, rvaEnd); ok {
			loc := lineRecordToLocation(rec, lineProgram.Files())
			outer.Location = &loc
		}
	}

	// Ordered outer->inner as we build it; reversed just before return.
	frames := []Frame{outer}

	if lineProgram != nil && inlinees != nil {
		rest, err := module.SymbolsFrom(symbolIndex)
		if err == nil {
			// Skip the procedure symbol itself.
			if _, ok, err := rest.Next(); !ok || err != nil {
				rest = nil
			}
		} else {
			rest = nil
		}

		builder := InlineFrameBuilder{TypeFormatter: r.TypeFormatter}
		for rest != nil {
			sym, ok, err := rest.Next()
			if err != nil || !ok {
				break
			}
			switch sym.Kind {
			case SymbolProcedure:
				// Start of the next procedure; we're done.
				rest = nil
			case SymbolInlineSite:
				if frame, ok := builder.Build(sym.InlineSite, address, inlinees, rvaStart, lineProgram.Files()); ok {
					frames = append(frames, frame)
				}
			}
		}
	}

	// Reverse to innermost-first.
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	return frames
}
