package taskprof

import "testing"

func u32(v uint32) *uint32 { return &v }

func TestFindByImplicitEnd(t *testing.T) {
	records := []LineRecord{
		{Offset: 0, LineStart: 10},
		{Offset: 16, LineStart: 11},
		{Offset: 32, LineStart: 12},
	}

	tests := []struct {
		name       string
		address    RVA
		wantLine   uint32
		wantOK     bool
		outerEnd   RVA
	}{
		{"start of first record", 0, 10, true, 48},
		{"middle of first record", 8, 10, true, 48},
		{"exactly at second record's start", 16, 11, true, 48},
		{"middle of last record", 40, 12, true, 48},
		{"exactly at outer end", 48, 0, false, 48},
		{"past outer end", 100, 0, false, 48},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := FindByImplicitEnd(NewLineRecordSource(records), tt.address, tt.outerEnd)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && rec.LineStart != tt.wantLine {
				t.Fatalf("line = %d, want %d", rec.LineStart, tt.wantLine)
			}
		})
	}
}

func TestFindByImplicitEndEmpty(t *testing.T) {
	_, ok := FindByImplicitEnd(NewLineRecordSource(nil), 0, 10)
	if ok {
		t.Fatal("expected no match on an empty source")
	}
}

func TestFindByExplicitLength(t *testing.T) {
	records := []LineRecord{
		{Offset: 0, Length: nil, LineStart: 1},       // informational, skipped
		{Offset: 0, Length: u32(8), LineStart: 10},
		{Offset: 8, Length: u32(8), LineStart: 11},
	}

	rec, ok := FindByExplicitLength(NewLineRecordSource(records), 4)
	if !ok || rec.LineStart != 10 {
		t.Fatalf("got (%+v, %v), want line 10", rec, ok)
	}

	rec, ok = FindByExplicitLength(NewLineRecordSource(records), 12)
	if !ok || rec.LineStart != 11 {
		t.Fatalf("got (%+v, %v), want line 11", rec, ok)
	}

	_, ok = FindByExplicitLength(NewLineRecordSource(records), 100)
	if ok {
		t.Fatal("expected no match past the last record's range")
	}
}

func TestSliceLineRecordSourceClone(t *testing.T) {
	src := NewLineRecordSource([]LineRecord{{Offset: 0}, {Offset: 1}})
	src.Next()

	clone := src.Clone()
	// Advancing the clone must not move the original's cursor.
	clone.Next()

	rec, ok, err := src.Next()
	if err != nil || !ok || rec.Offset != 1 {
		t.Fatalf("original cursor moved by clone advance: rec=%+v ok=%v err=%v", rec, ok, err)
	}
}
