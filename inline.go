package taskprof

// TypeFormatter renders procedure and inlinee names for display. Failures
// are swallowed by design (spec.md §9 "TypeFormatter failure"): whatever
// partial content landed in out before the error is the name we show.
type TypeFormatter interface {
	WriteFunction(out *string, rawName string, typeIndex uint32) error
	WriteID(out *string, id InlineeID) error
}

func formatFunction(tf TypeFormatter, rawName string, typeIndex uint32) string {
	var out string
	_ = tf.WriteFunction(&out, rawName, typeIndex)
	return out
}

func formatInlineeID(tf TypeFormatter, id InlineeID) string {
	var out string
	_ = tf.WriteID(&out, id)
	return out
}

// InlineFrameBuilder resolves a single InlineSite to a Frame, given the
// address being symbolicated and the inlining context it was found in.
type InlineFrameBuilder struct {
	TypeFormatter TypeFormatter
}

// Build decides whether site covers address and, if so, produces the
// resolved Frame. Returns ok=false when the site's inlinee is unknown or its
// line records don't cover address — the site exists in the symbol stream
// but contributes nothing to this particular address (spec.md §4.3 edge
// cases: "an inline site whose line records do not cover the target address
// contributes nothing").
func (b InlineFrameBuilder) Build(
	site InlineSite,
	address RVA,
	inlinees map[InlineeID]Inlinee,
	procOffset RVA,
	fileTable FileTable,
) (Frame, bool) {
	inlinee, ok := inlinees[site.InlineeID]
	if !ok {
		return Frame{}, false
	}

	lines := relativeLines(inlinee.Lines, procOffset)
	rec, ok := FindByExplicitLength(NewLineRecordSource(lines), address)
	if !ok {
		return Frame{}, false
	}

	name := formatInlineeID(b.TypeFormatter, site.InlineeID)
	loc := lineRecordToLocation(rec, fileTable)

	return Frame{Function: &name, Location: &loc}, true
}

// relativeLines re-bases an inlinee's stored line records (which are
// relative to the inlinee's own definition) onto the RVA space of the
// procedure the inline site appears in.
func relativeLines(lines []LineRecord, procOffset RVA) []LineRecord {
	if procOffset == 0 {
		return lines
	}
	out := make([]LineRecord, len(lines))
	for i, l := range lines {
		l.Offset += procOffset
		out[i] = l
	}
	return out
}

// FileTable resolves a line record's file index (plus the module's string
// table, implicitly) to a file name. It is the composition of spec.md
// §4.2's "line program's file table and the string table".
type FileTable interface {
	FileName(fileIndex uint32) (string, bool)
}

func lineRecordToLocation(rec LineRecord, files FileTable) Location {
	var file string
	if files != nil {
		if name, ok := files.FileName(rec.FileIndex); ok {
			file = name
		}
	}
	return Location{
		File:   file,
		Line:   rec.LineStart,
		Column: rec.ColumnStart,
	}
}
