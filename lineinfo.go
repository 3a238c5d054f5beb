package taskprof

// LineRecordSource is a restartable, possibly-fallible sequence of line
// records. Restartability is required by FindByImplicitEnd, which needs to
// zip the sequence against its own tail to compute each record's implicit
// end RVA.
//
// Implementations are expected to be cheap to Clone: a typical
// implementation is a slice-backed cursor, not a stream read from disk (file
// I/O for debug data is out of scope, see spec.md §1).
type LineRecordSource interface {
	// Next returns the next record, or ok=false at end of sequence. err is
	// non-nil only when the underlying source failed mid-iteration; callers
	// treat that the same as "no further records".
	Next() (rec LineRecord, ok bool, err error)
	// Clone returns an independent cursor positioned at the same record as
	// the receiver. Advancing the clone must not affect the receiver.
	Clone() LineRecordSource
}

// sliceLineRecordSource is the concrete LineRecordSource used whenever a
// caller already holds its line records in memory (the common case, since
// line programs are small and module-scoped).
type sliceLineRecordSource struct {
	records []LineRecord
	pos     int
}

// NewLineRecordSource builds a LineRecordSource over an in-memory slice of
// line records, in program order (non-decreasing start RVA).
func NewLineRecordSource(records []LineRecord) LineRecordSource {
	return &sliceLineRecordSource{records: records}
}

func (s *sliceLineRecordSource) Next() (LineRecord, bool, error) {
	if s.pos >= len(s.records) {
		return LineRecord{}, false, nil
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, true, nil
}

func (s *sliceLineRecordSource) Clone() LineRecordSource {
	c := *s
	return &c
}

// FindByImplicitEnd locates the unsized line record whose implicit range
// [start_i, end_i) contains address, where end_i is the next record's start
// RVA, or outerEndRVA for the last record. Returns ok=false if no record
// matches (including when the source fails mid-iteration: a failure aborts
// the search, it is not surfaced as an error to the caller).
//
// Ties are impossible: record start RVAs are monotonically non-decreasing
// within one line program.
func FindByImplicitEnd(records LineRecordSource, address RVA, outerEndRVA RVA) (LineRecord, bool) {
	// peek runs one record ahead of the main cursor: peek.Next() called
	// right after main.Next() consumed record i yields record i+1, which is
	// exactly record i's implicit end (or outerEndRVA once peek runs dry).
	peek := records.Clone()
	if _, ok, err := peek.Next(); err != nil || !ok {
		peek = nil
	}

	for {
		rec, ok, err := records.Next()
		if err != nil || !ok {
			return LineRecord{}, false
		}

		endRVA := outerEndRVA
		if peek != nil {
			nextRec, ok, err := peek.Next()
			if err != nil {
				return LineRecord{}, false
			}
			if ok {
				endRVA = nextRec.Offset
			} else {
				peek = nil
			}
		}

		if rec.Offset <= address && address < endRVA {
			return rec, true
		}
	}
}

// FindByExplicitLength scans records linearly, skipping any record lacking a
// Length (informational records that don't define coverage), and returns the
// first record whose [Offset, Offset+Length) range contains address.
func FindByExplicitLength(records LineRecordSource, address RVA) (LineRecord, bool) {
	for {
		rec, ok, err := records.Next()
		if err != nil || !ok {
			return LineRecord{}, false
		}
		if rec.Length == nil {
			continue
		}
		start := rec.Offset
		end := start + RVA(*rec.Length)
		if start <= address && address < end {
			return rec, true
		}
	}
}
