package taskprof

import (
	"errors"
	"testing"
)

type stubTypeFormatter struct {
	functionSuffix string
	idPrefix       string
}

func (s stubTypeFormatter) WriteFunction(out *string, rawName string, typeIndex uint32) error {
	*out = rawName + s.functionSuffix
	return nil
}

func (s stubTypeFormatter) WriteID(out *string, id InlineeID) error {
	*out = s.idPrefix + string(rune('0'+int(id)))
	return nil
}

type failingTypeFormatter struct{}

func (failingTypeFormatter) WriteFunction(out *string, rawName string, typeIndex uint32) error {
	*out = "partial"
	return errDummy
}

func (failingTypeFormatter) WriteID(out *string, id InlineeID) error {
	return errDummy
}

type stubFileTable map[uint32]string

func (t stubFileTable) FileName(idx uint32) (string, bool) {
	name, ok := t[idx]
	return name, ok
}

var errDummy = errors.New("boom")

func TestInlineFrameBuilderBuild(t *testing.T) {
	inlinees := map[InlineeID]Inlinee{
		1: {ID: 1, Lines: []LineRecord{
			{Offset: 0, Length: u32(4), FileIndex: 7, LineStart: 42},
		}},
	}
	files := stubFileTable{7: "helper.go"}
	builder := InlineFrameBuilder{TypeFormatter: stubTypeFormatter{idPrefix: "inlinee#"}}

	frame, ok := builder.Build(InlineSite{InlineeID: 1}, 100, inlinees, 100, files)
	if !ok {
		t.Fatal("expected a match")
	}
	if *frame.Function != "inlinee#1" {
		t.Fatalf("function = %q", *frame.Function)
	}
	if frame.Location.File != "helper.go" || frame.Location.Line != 42 {
		t.Fatalf("location = %+v", frame.Location)
	}
}

func TestInlineFrameBuilderUnknownInlinee(t *testing.T) {
	builder := InlineFrameBuilder{TypeFormatter: stubTypeFormatter{}}
	_, ok := builder.Build(InlineSite{InlineeID: 99}, 0, nil, 0, nil)
	if ok {
		t.Fatal("expected no match for an unknown inlinee id")
	}
}

func TestInlineFrameBuilderAddressNotCovered(t *testing.T) {
	inlinees := map[InlineeID]Inlinee{
		1: {ID: 1, Lines: []LineRecord{{Offset: 0, Length: u32(4), LineStart: 42}}},
	}
	builder := InlineFrameBuilder{TypeFormatter: stubTypeFormatter{}}
	_, ok := builder.Build(InlineSite{InlineeID: 1}, 1000, inlinees, 0, nil)
	if ok {
		t.Fatal("expected no match: address falls outside every line record")
	}
}

func TestTypeFormatterFailureYieldsPartialName(t *testing.T) {
	name := formatFunction(failingTypeFormatter{}, "Foo", 0)
	if name != "partial" {
		t.Fatalf("name = %q, want the partial write to survive the error", name)
	}
}

func TestRelativeLinesRebasesOffsets(t *testing.T) {
	lines := []LineRecord{{Offset: 4}, {Offset: 8}}
	out := relativeLines(lines, 100)
	if out[0].Offset != 104 || out[1].Offset != 108 {
		t.Fatalf("rebased offsets = %+v", out)
	}
	// Original slice must be untouched.
	if lines[0].Offset != 4 {
		t.Fatal("relativeLines mutated its input")
	}
}
